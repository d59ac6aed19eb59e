// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package knowledge

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callcore/internal/logging"
)

func testLogger() logging.Logger {
	l, err := logging.New(logging.Options{Level: "error"})
	if err != nil {
		panic(err)
	}
	return l
}

type fakeDocumentSource struct {
	docs  []Document
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeDocumentSource) FetchDocuments(_ context.Context, _ []string) ([]Document, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool // user prompt substrings to fail
	reply func(systemPrompt, userPrompt string) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userPrompt)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(systemPrompt, userPrompt)
	}
	return "answer for: " + userPrompt, nil
}

func TestPackDocuments_S5TwoGroupSplit(t *testing.T) {
	docs := []Document{
		{Name: "a", Text: "a", Tokens: 10000},
		{Name: "b", Text: "b", Tokens: 12000},
		{Name: "c", Text: "c", Tokens: 15000},
	}

	groups := packDocuments(docs, 30000)

	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, 10000, groups[0][0].Tokens)
	assert.Equal(t, 12000, groups[0][1].Tokens)
	require.Len(t, groups[1], 1)
	assert.Equal(t, 15000, groups[1][0].Tokens)
}

func TestPackDocuments_SingleOversizedDocumentGetsOwnGroup(t *testing.T) {
	docs := []Document{{Name: "huge", Text: "x", Tokens: 50000}}

	groups := packDocuments(docs, 30000)

	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 1)
}

func TestKnowledgeBase_Query_EmptyKBIDsReturnsNoDocumentsFound(t *testing.T) {
	kb, err := New(&fakeDocumentSource{}, newLocalCache(), &fakeCompleter{}, testLogger(), 0, 0)
	require.NoError(t, err)

	answer, err := kb.Query(context.Background(), nil, "what is the refund window?")

	require.NoError(t, err)
	assert.Equal(t, noDocumentsFound, answer)
}

func TestKnowledgeBase_Query_SingleGroupCompletesDirectly(t *testing.T) {
	docs := &fakeDocumentSource{docs: []Document{
		{Name: "policy", Text: "refunds within 30 days", Tokens: 100},
	}}
	completer := &fakeCompleter{}
	kb, err := New(docs, newLocalCache(), completer, testLogger(), 30000, 0)
	require.NoError(t, err)

	answer, err := kb.Query(context.Background(), []string{"kb-1"}, "refund window?")

	require.NoError(t, err)
	assert.Contains(t, answer, "refund window?")
	assert.Len(t, completer.calls, 1)
}

func TestKnowledgeBase_Query_MultiGroupConsolidates(t *testing.T) {
	docs := &fakeDocumentSource{docs: []Document{
		{Name: "a", Text: "doc a", Tokens: 10000},
		{Name: "b", Text: "doc b", Tokens: 12000},
		{Name: "c", Text: "doc c", Tokens: 15000},
	}}
	completer := &fakeCompleter{
		reply: func(systemPrompt, userPrompt string) (string, error) {
			if systemPrompt == consolidateSystemPrompt {
				return "consolidated answer", nil
			}
			return "partial: " + userPrompt, nil
		},
	}
	kb, err := New(docs, newLocalCache(), completer, testLogger(), 30000, 0)
	require.NoError(t, err)

	answer, err := kb.Query(context.Background(), []string{"kb-1"}, "summarize all policies")

	require.NoError(t, err)
	assert.Equal(t, "consolidated answer", answer)
	// two group completions plus one consolidation call
	assert.Len(t, completer.calls, 3)
}

func TestKnowledgeBase_Query_OneGroupFailsOthersStillAnswer(t *testing.T) {
	docs := &fakeDocumentSource{docs: []Document{
		{Name: "a", Text: "doc a", Tokens: 10000},
		{Name: "b", Text: "doc b", Tokens: 12000},
		{Name: "c", Text: "doc c", Tokens: 15000},
	}}
	var mu sync.Mutex
	seen := 0
	completer := &fakeCompleter{
		reply: func(systemPrompt, _ string) (string, error) {
			if systemPrompt == consolidateSystemPrompt {
				return "fallback single answer", nil
			}
			mu.Lock()
			defer mu.Unlock()
			seen++
			if seen == 1 {
				return "", fmt.Errorf("boom")
			}
			return "ok partial", nil
		},
	}
	kb, err := New(docs, newLocalCache(), completer, testLogger(), 30000, 0)
	require.NoError(t, err)

	answer, err := kb.Query(context.Background(), []string{"kb-1"}, "q")

	require.NoError(t, err)
	assert.Equal(t, "ok partial", answer)
}

func TestKnowledgeBase_Query_AllGroupsFailReturnsError(t *testing.T) {
	docs := &fakeDocumentSource{docs: []Document{
		{Name: "a", Text: "doc a", Tokens: 10000},
		{Name: "b", Text: "doc b", Tokens: 12000},
		{Name: "c", Text: "doc c", Tokens: 15000},
	}}
	completer := &fakeCompleter{
		reply: func(_ string, _ string) (string, error) { return "", fmt.Errorf("down") },
	}
	kb, err := New(docs, newLocalCache(), completer, testLogger(), 30000, 0)
	require.NoError(t, err)

	_, err = kb.Query(context.Background(), []string{"kb-1"}, "q")

	assert.Error(t, err)
}

func TestKnowledgeBase_Query_CacheHitSkipsFetch(t *testing.T) {
	docs := &fakeDocumentSource{docs: []Document{
		{Name: "policy", Text: "refunds within 30 days", Tokens: 100},
	}}
	completer := &fakeCompleter{}
	kb, err := New(docs, newLocalCache(), completer, testLogger(), 30000, 0)
	require.NoError(t, err)

	_, err = kb.Query(context.Background(), []string{"kb-1"}, "first query")
	require.NoError(t, err)
	_, err = kb.Query(context.Background(), []string{"kb-1"}, "second query")
	require.NoError(t, err)

	assert.Equal(t, 1, docs.calls)
	assert.Len(t, completer.calls, 2)
}

func TestRedisCache_FallsBackToLocalWhenRedisUnavailable(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("kb-1").SetErr(fmt.Errorf("connection refused"))
	mock.ExpectSet("kb-1", "document-blob", 0).SetErr(fmt.Errorf("connection refused"))

	cache := NewRedisCache(client)

	err := cache.Set(context.Background(), "kb-1", "document-blob", 0)
	require.NoError(t, err)

	val, ok, err := cache.Get(context.Background(), "kb-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "document-blob", val)
}

func TestRedisCache_GetMissFallsBackToLocalOnNil(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet("kb-1").RedisNil()

	cache := NewRedisCache(client)

	_, ok, err := cache.Get(context.Background(), "kb-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
