package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
)

type object struct {
	data        []byte
	contentType string
}

// Store is an in-memory implementation of assetstore.Store, used for local
// runs and tests. Faults can be queued per operation.
type Store struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]object
	faults  map[string][]error
	calls   map[string]int
}

// NewStore creates an empty Store for bucket.
func NewStore(bucket string) *Store {
	return &Store{
		bucket:  bucket,
		objects: make(map[string]object),
		faults:  make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// FailNext queues errs to be returned by the next calls of op
// ("upload", "promote", "fetch" or "delete"), one per call.
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[op] = append(s.faults[op], errs...)
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// Keys returns the stored object keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// Put stores data under key as is, bypassing the temporary key rules.
func (s *Store) Put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
}

// ContentType returns the content type an object was stored with.
func (s *Store) ContentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.objects[key].contentType
}

// fault must be called with mu held.
func (s *Store) fault(op string) error {
	s.calls[op]++
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

func (s *Store) UploadTemp(ctx context.Context, data []byte, tempKey, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("upload"); err != nil {
		return "", err
	}
	if !assetstore.IsTempKey(tempKey) {
		return "", &assetstore.StorageError{Op: "upload", Key: tempKey, Err: fmt.Errorf("not a temporary key")}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[tempKey] = object{data: buf, contentType: contentType}

	return assetstore.URI(assetstore.SchemeMemory, s.bucket, tempKey), nil
}

func (s *Store) Promote(ctx context.Context, tempURI, recordID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("promote"); err != nil {
		return "", err
	}

	tempKey, err := s.key(tempURI)
	if err != nil {
		return "", &assetstore.StorageError{Op: "promote", Key: tempURI, Err: err}
	}
	dstKey, err := assetstore.PromotedKey(tempKey, recordID)
	if err != nil {
		return "", &assetstore.StorageError{Op: "promote", Key: tempKey, Err: err}
	}

	obj, ok := s.objects[tempKey]
	if !ok {
		if _, done := s.objects[dstKey]; done {
			return assetstore.URI(assetstore.SchemeMemory, s.bucket, dstKey), nil
		}
		return "", &assetstore.StorageError{Op: "promote", Key: tempKey, Err: assetstore.ErrObjectNotFound}
	}

	s.objects[dstKey] = obj
	delete(s.objects, tempKey)

	return assetstore.URI(assetstore.SchemeMemory, s.bucket, dstKey), nil
}

func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("fetch"); err != nil {
		return nil, err
	}

	key, err := s.key(uri)
	if err != nil {
		return nil, &assetstore.StorageError{Op: "fetch", Key: uri, Err: err}
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, &assetstore.StorageError{Op: "fetch", Key: key, Err: assetstore.ErrObjectNotFound}
	}

	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fault("delete"); err != nil {
		return err
	}

	key, err := s.key(uri)
	if err != nil {
		return &assetstore.StorageError{Op: "delete", Key: uri, Err: err}
	}
	delete(s.objects, key)
	return nil
}

func (s *Store) key(uri string) (string, error) {
	scheme, bucket, key, err := assetstore.ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != assetstore.SchemeMemory || bucket != s.bucket {
		return "", fmt.Errorf("URI %s is outside bucket %s", uri, s.bucket)
	}
	return key, nil
}
