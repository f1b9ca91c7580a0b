package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
	assetmem "github.com/dvloznov/receipt-capture/internal/assetstore/inmemory"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

type captureCall struct {
	tc  tenant.Context
	req pipeline.CaptureRequest
}

type fakeCapturer struct {
	calls []captureCall
	err   error
}

func (f *fakeCapturer) Capture(_ context.Context, tc tenant.Context, req pipeline.CaptureRequest) (*pipeline.CaptureResult, error) {
	f.calls = append(f.calls, captureCall{tc, req})
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.CaptureResult{RecordID: "rec-1", Status: receipt.StatusConfirmed}, nil
}

func TestSpaceOf(t *testing.T) {
	tests := []struct {
		name  string
		space string
		ok    bool
	}{
		{"inbox/space-1/lunch.jpg", "space-1", true},
		{"inbox/space-1/2024/lunch.jpg", "space-1", true},
		{"inbox/space-1/", "", false},
		{"inbox/lunch.jpg", "", false},
		{"inbox//lunch.jpg", "", false},
		{"archive/space-1/lunch.jpg", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space, ok := spaceOf(tt.name, "inbox/")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.space, space)
		})
	}
}

func newInbox(t *testing.T, c capturer) (*inbox, *assetmem.Store) {
	t.Helper()
	store := assetmem.NewStore("drop")
	return &inbox{
		capture:         c,
		objects:         store,
		scheme:          assetstore.SchemeMemory,
		bucket:          "drop",
		prefix:          "inbox/",
		defaultCurrency: "CNY",
	}, store
}

func put(t *testing.T, store *assetmem.Store, data []byte) string {
	t.Helper()
	const key = "inbox/space-1/lunch.jpg"
	store.Put(key, data, "image/jpeg")
	return key
}

func TestProcess_CapturesAndRemovesObject(t *testing.T) {
	c := &fakeCapturer{}
	in, store := newInbox(t, c)
	key := put(t, store, []byte("jpeg"))

	err := in.process(context.Background(), storageObject{
		Bucket:      "drop",
		Name:        key,
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"home_currency": "eur"},
	})
	require.NoError(t, err)

	require.Len(t, c.calls, 1)
	assert.Equal(t, tenant.New("space-1", "EUR"), c.calls[0].tc)
	assert.True(t, bytes.Equal([]byte("jpeg"), c.calls[0].req.Image))
	assert.Equal(t, receipt.SourceInbox, c.calls[0].req.Source)
	assert.Empty(t, store.Keys())
}

func TestProcess_Ignores(t *testing.T) {
	c := &fakeCapturer{}
	in, store := newInbox(t, c)
	key := put(t, store, []byte("jpeg"))

	ctx := context.Background()
	require.NoError(t, in.process(ctx, storageObject{Bucket: "other", Name: key}))
	require.NoError(t, in.process(ctx, storageObject{Bucket: "drop", Name: "notes/readme.txt"}))
	require.NoError(t, in.process(ctx, storageObject{Bucket: "drop", Name: key, ContentType: "application/pdf"}))
	require.NoError(t, in.process(ctx, storageObject{Bucket: "drop", Name: "inbox/space-1/missing.jpg"}))

	assert.Empty(t, c.calls)
	assert.Len(t, store.Keys(), 1)
}

func TestProcess_CaptureErrors(t *testing.T) {
	ctx := context.Background()

	c := &fakeCapturer{err: errors.New("database is locked")}
	in, store := newInbox(t, c)
	key := put(t, store, []byte("jpeg"))
	assert.Error(t, in.process(ctx, storageObject{Bucket: "drop", Name: key}))
	assert.Len(t, store.Keys(), 1)

	c.err = pipeline.ErrEmptyImage
	require.NoError(t, in.process(ctx, storageObject{Bucket: "drop", Name: key}))
	assert.Empty(t, store.Keys())
}

func TestProcess_FetchErrorIsRetried(t *testing.T) {
	c := &fakeCapturer{}
	in, store := newInbox(t, c)
	key := put(t, store, []byte("jpeg"))

	store.FailNext("fetch", &assetstore.StorageError{Op: "fetch", Key: key, Retryable: true, Err: errors.New("503")})
	assert.Error(t, in.process(context.Background(), storageObject{Bucket: "drop", Name: key}))
	assert.Empty(t, c.calls)
}
