// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/pinac/internal/credstore"
	"github.com/jeranaias/pinac/internal/ollama"
	"github.com/jeranaias/pinac/internal/provider"
)

type fakeLister struct {
	models []ollama.ModelInfo
	err    error
}

func (f fakeLister) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	return f.models, f.err
}

func openStore(t *testing.T) *credstore.Store {
	t.Helper()
	store, err := credstore.Open(context.Background(), credstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestService(t *testing.T, lister ModelLister, adapters ...provider.Adapter) (*Service, *credstore.Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	m := newTestManager(rec, nil, adapters...)
	t.Cleanup(m.Close)
	store := openStore(t)
	return NewService(m, lister, store), store, rec
}

func TestService_StartAndStop(t *testing.T) {
	adapter := newFakeAdapter("ollama", "hi")
	adapter.block = true
	svc, _, rec := newTestService(t, nil, adapter)

	id := svc.StartChatStream(provider.Request{Prompt: "p", ProviderID: "ollama"})
	require.NotEmpty(t, id)
	<-adapter.started

	assert.True(t, svc.StopChatStream())
	assert.Equal(t, []Event{data(id, "hi"), done(id)}, rec.all())
	assert.True(t, svc.StopChatStream())
}

func TestService_StartAfterCloseReturnsEmptyID(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	svc.Manager().Close()
	assert.Empty(t, svc.StartChatStream(provider.Request{ProviderID: "ollama"}))
}

func TestService_ListLocalModels(t *testing.T) {
	svc, _, _ := newTestService(t, fakeLister{models: []ollama.ModelInfo{{Name: "llama3.2"}}})
	models := svc.ListLocalModels(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.2", models[0].Name)

	for name, lister := range map[string]ModelLister{
		"error": fakeLister{err: errors.New("connection refused")},
		"nil":   fakeLister{},
		"none":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			svc, _, _ := newTestService(t, lister)
			models := svc.ListLocalModels(context.Background())
			assert.NotNil(t, models)
			assert.Empty(t, models)
		})
	}
}

func TestService_ProviderCredentialRoundTrip(t *testing.T) {
	svc, store, _ := newTestService(t, nil)

	assert.Nil(t, svc.GetProviderCredential())

	res := svc.SaveProviderCredential(map[string]any{
		"subProvider": "openai",
		"modelName":   "gpt-4o-mini",
		"apiKey":      "sk-test",
	})
	assert.Equal(t, CredentialResult{Success: true}, res)

	got := svc.GetProviderCredential()
	assert.Equal(t, "openai", got["subProvider"])
	assert.Equal(t, "sk-test", got["apiKey"])

	raw, ok, err := store.Get(credstore.ProviderConfigName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"subProvider":"openai","modelName":"gpt-4o-mini","apiKey":"sk-test"}`, raw)
}

func TestService_GetProviderCredentialIgnoresGarbage(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	require.NoError(t, store.Put(credstore.ProviderConfigName, "not json"))
	assert.Nil(t, svc.GetProviderCredential())
}

func TestService_SaveProviderCredentialRejectsUnencodable(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	res := svc.SaveProviderCredential(map[string]any{"bad": make(chan int)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid configuration")
}

func TestService_SearchKeyAndLogout(t *testing.T) {
	svc, store, _ := newTestService(t, nil)

	assert.ErrorIs(t, svc.SaveSearchKey("   "), ErrEmptyKey)
	require.NoError(t, svc.SaveSearchKey(" tvly-123 "))

	key, ok, err := store.Get(credstore.SearchKeyName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tvly-123", key)

	assert.True(t, svc.Logout())
	assert.False(t, store.Has(credstore.SearchKeyName))
	assert.Nil(t, svc.GetProviderCredential())
}
