// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package knowledge implements the §6.3 knowledge-base LLM lookup the
// query_documents tool (C4) calls through: document-set caching, greedy
// token-budgeted partitioning, per-group chat completion, and
// consolidation of partial answers into a single result.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/rapidaai/callcore/internal/logging"
)

const (
	defaultGroupTokenBudget = 30000
	defaultCacheTTL         = 10 * time.Minute
	encodingName            = "cl100k_base"
	noDocumentsFound        = "No documents found"
)

// Document is one knowledge-base document: its display name, full text, and
// its token count under the configured encoding (computed on first fetch,
// cached alongside the text so repeat lookups skip re-tokenizing).
type Document struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// DocumentSource fetches the documents belonging to a set of knowledge
// base ids. Implemented against whatever document store this core is
// deployed alongside — out of scope for this package.
type DocumentSource interface {
	FetchDocuments(ctx context.Context, kbIDs []string) ([]Document, error)
}

// ChatCompleter is the narrow LLM collaborator this package needs: one
// system+user turn in, one answer string out.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// KnowledgeBase implements tools.KnowledgeBase.
type KnowledgeBase struct {
	docs      DocumentSource
	cache     Cache
	completer ChatCompleter
	logger    logging.Logger
	enc       *tiktoken.Tiktoken

	groupTokenBudget int
	cacheTTL         time.Duration
}

// New constructs a KnowledgeBase. groupTokenBudget <= 0 defaults to 30 000
// (§6.3); cacheTTL <= 0 defaults to 10 minutes.
func New(docs DocumentSource, cache Cache, completer ChatCompleter, logger logging.Logger, groupTokenBudget int, cacheTTL time.Duration) (*KnowledgeBase, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("knowledge: loading tiktoken encoding: %w", err)
	}
	if groupTokenBudget <= 0 {
		groupTokenBudget = defaultGroupTokenBudget
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &KnowledgeBase{
		docs:             docs,
		cache:            cache,
		completer:        completer,
		logger:           logger,
		enc:              enc,
		groupTokenBudget: groupTokenBudget,
		cacheTTL:         cacheTTL,
	}, nil
}

// Query answers one natural-language question against the documents
// attached to kbIDs. Never returns an error the caller can't present: on
// internal failure it returns ("", err) and the dispatcher surfaces a
// generic failure string to the model (§7 ToolArgsInvalid/KB-unavailable
// handling already covers that boundary).
func (kb *KnowledgeBase) Query(ctx context.Context, kbIDs []string, query string) (string, error) {
	if len(kbIDs) == 0 {
		return noDocumentsFound, nil
	}

	docs, err := kb.getDocuments(ctx, kbIDs)
	if err != nil {
		return "", fmt.Errorf("knowledge: fetching documents: %w", err)
	}
	if len(docs) == 0 {
		return noDocumentsFound, nil
	}

	groups := packDocuments(docs, kb.groupTokenBudget)
	if len(groups) == 1 {
		return kb.completeGroup(ctx, query, groups[0])
	}

	type groupResult struct {
		answer string
		err    error
	}
	results := make([]groupResult, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group []Document) {
			defer wg.Done()
			answer, err := kb.completeGroup(ctx, query, group)
			results[i] = groupResult{answer: answer, err: err}
		}(i, group)
	}
	wg.Wait()

	var answers []string
	for i, r := range results {
		if r.err != nil {
			kb.logger.Warnf("knowledge: document group %d lookup failed: %v", i, r.err)
			continue
		}
		answers = append(answers, r.answer)
	}
	if len(answers) == 0 {
		return "", fmt.Errorf("knowledge: all %d document groups failed", len(groups))
	}
	if len(answers) == 1 {
		return answers[0], nil
	}
	return kb.consolidate(ctx, query, answers)
}

func (kb *KnowledgeBase) getDocuments(ctx context.Context, kbIDs []string) ([]Document, error) {
	key := cacheKey(kbIDs)

	if cached, ok, err := kb.cache.Get(ctx, key); err == nil && ok {
		var docs []Document
		if err := json.Unmarshal([]byte(cached), &docs); err == nil {
			return docs, nil
		}
	}

	docs, err := kb.docs.FetchDocuments(ctx, kbIDs)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Tokens == 0 && docs[i].Text != "" {
			docs[i].Tokens = len(kb.enc.Encode(docs[i].Text, nil, nil))
		}
	}

	if raw, err := json.Marshal(docs); err == nil {
		if err := kb.cache.Set(ctx, key, string(raw), kb.cacheTTL); err != nil {
			kb.logger.Warnf("knowledge: caching document set for %s: %v", key, err)
		}
	}
	return docs, nil
}

func cacheKey(kbIDs []string) string {
	sorted := make([]string, len(kbIDs))
	copy(sorted, kbIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

// packDocuments greedily bins documents, sorted ascending by token count,
// into groups that stay at or under maxTokens (§6.3/S5): 10k, 12k, 15k
// documents with a 30k budget pack into [10k,12k] then [15k]. A single
// document larger than maxTokens still forms its own group.
func packDocuments(docs []Document, maxTokens int) [][]Document {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tokens < sorted[j].Tokens })

	var groups [][]Document
	var current []Document
	currentTokens := 0
	for _, d := range sorted {
		if len(current) > 0 && currentTokens+d.Tokens > maxTokens {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, d)
		currentTokens += d.Tokens
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

const queryDocumentsSystemPrompt = `You are a helpful assistant that answers a user's question using the documents you have access to.
Be concise and to the point.
You will be given a query and a set of documents.
Answer the query using the information in the documents only.
If you cannot answer the query using the documents, say so.
Only return the answer, do not include any other text.`

func (kb *KnowledgeBase) completeGroup(ctx context.Context, query string, docs []Document) (string, error) {
	var formatted strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&formatted, "#### %s\n%s\n", d.Name, d.Text)
	}
	userPrompt := fmt.Sprintf("### Documents\n%s\n### Query\n%s", formatted.String(), query)
	return kb.completer.Complete(ctx, queryDocumentsSystemPrompt, userPrompt)
}

const consolidateSystemPrompt = `You are consolidating several partial answers to the same question, each
derived from a different subset of the available documents. Merge them into
one concise, non-redundant answer. If the partial answers conflict, prefer
the more specific one.`

func (kb *KnowledgeBase) consolidate(ctx context.Context, query string, answers []string) (string, error) {
	var formatted strings.Builder
	for i, a := range answers {
		fmt.Fprintf(&formatted, "#### Partial answer %d\n%s\n", i+1, a)
	}
	userPrompt := fmt.Sprintf("### Query\n%s\n\n### Partial Answers\n%s", query, formatted.String())
	return kb.completer.Complete(ctx, consolidateSystemPrompt, userPrompt)
}
