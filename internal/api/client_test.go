package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vpnconnect/internal/model"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL)
	err := c.Connect(context.Background(), ConnectRequest{ProviderID: "0x1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if want := "400"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"nope"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_ProposalsQueryAndMapping(t *testing.T) {
	t.Parallel()

	var gotQuery string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/proposals" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(ProposalsResponse{Proposals: []ProposalDTO{{
			ProviderID:  "0xabc",
			ServiceType: "wireguard",
			Location:    LocationDTO{Country: "DE", IPType: "Residential"},
			Price:       PriceDTO{PricePerByte: 0.5},
			Quality:     QualityDTO{Quality: 2.5},
		}}})
	}))
	defer s.Close()

	c := NewClient(s.URL)
	records, err := c.Proposals(context.Background(), model.ProposalRequest{
		Refresh:          true,
		ServiceType:      "wireguard",
		NATCompatibility: "auto",
	})
	if err != nil {
		t.Fatalf("Proposals: %v", err)
	}
	for _, want := range []string{"refresh=true", "service_type=wireguard", "nat_compatibility=auto"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
	if len(records) != 1 {
		t.Fatalf("records=%d", len(records))
	}
	r := records[0]
	if r.ProviderID != "0xabc" || r.Country != "DE" || !r.Residential || r.PricePerByte != 0.5 || r.Quality != 2.5 {
		t.Fatalf("record=%+v", r)
	}
}

func TestClient_ConnectSendsPut(t *testing.T) {
	t.Parallel()

	var got ConnectRequest
	var method string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"Connecting"}`))
	}))
	defer s.Close()

	c := NewClient(strings.TrimPrefix(s.URL, "http://"))
	err := c.Connect(context.Background(), ConnectRequest{
		ConsumerID:     "0xme",
		ProviderID:     "0xabc",
		ServiceType:    "wireguard",
		ConnectOptions: ConnectOptions{DNS: "auto"},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if method != http.MethodPut {
		t.Fatalf("method=%s", method)
	}
	if got.ConsumerID != "0xme" || got.ConnectOptions.DNS != "auto" {
		t.Fatalf("request=%+v", got)
	}
}
