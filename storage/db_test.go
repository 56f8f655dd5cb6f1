package storage

import (
	"bytes"
	"testing"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("k")
	if ok, err := db.Has(key); err != nil || ok {
		t.Fatalf("fresh db must not have the key (%v, %v)", ok, err)
	}
	if _, err := db.Get(key); err == nil {
		t.Fatalf("expected error for missing key")
	}

	value := []byte("v1")
	if err := db.Put(key, value); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get(key)
	if err != nil || !bytes.Equal(got, value) {
		t.Fatalf("get: %q (%v)", got, err)
	}

	if err := db.Put(key, []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = db.Get(key)
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("expected overwritten value, got %q", got)
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("original")) {
		t.Fatalf("stored value must not alias the caller's slice, got %q", got)
	}
	got[0] = 'Y'
	again, _ := db.Get([]byte("k"))
	if !bytes.Equal(again, []byte("original")) {
		t.Fatalf("returned value must not alias storage, got %q", again)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("has: %v (%v)", ok, err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(got, []byte("v")) {
		t.Fatalf("get: %q (%v)", got, err)
	}
}
