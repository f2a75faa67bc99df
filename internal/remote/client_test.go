package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"miqaatsync/internal/model"
)

func TestLookupMember(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/v1/members/30110001":
			json.NewEncoder(w).Encode(map[string]model.Member{
				"member": {ITS: "30110001", Name: "Taha", Mohallah: "Saifee"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "member not found"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")

	mem, err := c.LookupMember(context.Background(), "30110001")
	if err != nil {
		t.Fatalf("LookupMember() error = %v", err)
	}
	if mem.Name != "Taha" {
		t.Errorf("member = %+v", mem)
	}

	_, err = c.LookupMember(context.Background(), "99999999")
	if !errors.Is(err, model.ErrMemberNotFound) {
		t.Errorf("missing member error = %v, want ErrMemberNotFound", err)
	}
}

func TestLookupMemberUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "tok")
	_, err := c.LookupMember(context.Background(), "30110001")
	if !errors.Is(err, model.ErrDirectoryUnavailable) {
		t.Errorf("error = %v, want ErrDirectoryUnavailable", err)
	}
}

func TestWriteAttendanceIfAbsent(t *testing.T) {
	var seenToken string
	written := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/miqaats/mq1/attendance" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Token string                `json:"token"`
			Entry model.AttendanceEntry `json:"entry"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		seenToken = body.Token
		if written {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "entry already exists"})
			return
		}
		written = true
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	entry := model.AttendanceEntry{MemberITS: "30110001", SessionID: "s1", Status: model.StatusPresent}

	if err := c.WriteAttendanceIfAbsent(context.Background(), "mq1", "idem-1", entry); err != nil {
		t.Fatalf("first write error = %v", err)
	}
	if seenToken != "idem-1" {
		t.Errorf("idempotency token = %q, want idem-1", seenToken)
	}

	err := c.WriteAttendanceIfAbsent(context.Background(), "mq1", "idem-1", entry)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("second write error = %v, want ErrConflict", err)
	}
}

func TestWriteAttendanceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "db down"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.WriteAttendanceIfAbsent(context.Background(), "mq1", "idem-1", model.AttendanceEntry{})
	if err == nil || errors.Is(err, model.ErrConflict) {
		t.Fatalf("error = %v, want retryable write error", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Errorf("error = %v, want wrapped APIError with status 500", err)
	}
}

func TestMiqaat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/miqaats/mq1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]model.Miqaat{
			"miqaat": {
				ID:       "mq1",
				Name:     "Ashara Waaz",
				Kind:     model.KindMultiDay,
				Zone:     "Asia/Kolkata",
				Sessions: []model.Session{{ID: "s1", Day: 1, Name: "Morning"}},
			},
		})
	}))
	defer srv.Close()

	m, err := New(srv.URL, "tok").Miqaat(context.Background(), "mq1")
	if err != nil {
		t.Fatalf("Miqaat() error = %v", err)
	}
	if m.ID != "mq1" || len(m.Sessions) != 1 || m.Kind != model.KindMultiDay {
		t.Errorf("miqaat = %+v", m)
	}
}

func TestEligibleMembers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/miqaats/mq1/members" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string][]model.Member{
			"members": {{ITS: "30110001"}, {ITS: "30110002"}},
		})
	}))
	defer srv.Close()

	members, err := New(srv.URL, "tok").EligibleMembers(context.Background(), "mq1")
	if err != nil {
		t.Fatalf("EligibleMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("got %d members, want 2", len(members))
	}
}
