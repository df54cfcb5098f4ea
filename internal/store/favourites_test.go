package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vpnconnect/internal/model"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "vpnconnect.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestFavourites_EmptyStore(t *testing.T) {
	t.Parallel()

	s, path := openTemp(t)
	items, err := s.Favourites()
	if err != nil {
		t.Fatalf("Favourites: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("favourites=%d", len(items))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}
}

func TestFavourites_AddGetDelete(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	now := time.Now().UTC()
	a := model.FavouriteEntry{NodeRecord: model.NodeRecord{ProviderID: "0xa", ServiceType: "wireguard", Country: "DE"}, AddedAt: now}
	b := model.FavouriteEntry{NodeRecord: model.NodeRecord{ProviderID: "0xb", ServiceType: "wireguard"}, AddedAt: now.Add(-time.Minute)}

	if err := s.AddToFavourite(a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := s.AddToFavourite(b); err != nil {
		t.Fatalf("add b: %v", err)
	}

	items, err := s.Favourites()
	if err != nil {
		t.Fatalf("Favourites: %v", err)
	}
	if len(items) != 2 || items[0].ProviderID != "0xb" {
		t.Fatalf("favourites=%+v", items)
	}

	got, err := s.GetByID("0xawireguard")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Country != "DE" {
		t.Fatalf("entry=%+v", got)
	}

	if err := s.DeleteFromFavourite("0xawireguard"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetByID("0xawireguard"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if err := s.DeleteFromFavourite("missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestSettings_DNS(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	if _, ok, err := s.SavedDNS(); err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if err := s.SaveDNS("1.1.1.1"); err != nil {
		t.Fatalf("SaveDNS: %v", err)
	}
	v, ok, err := s.SavedDNS()
	if err != nil || !ok || v != "1.1.1.1" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
	if err := s.SaveDNS(""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.SavedDNS(); ok {
		t.Fatalf("dns not cleared")
	}
}
