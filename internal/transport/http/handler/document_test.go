package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docscribe/internal/transport/http/response"
)

func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "alice")

	t.Run("txt upload", func(t *testing.T) {
		req := multipartUpload(t, "notes.txt", []byte("hello from the notes"))
		req.Header.Set("Authorization", "Bearer "+token)
		w, env := srv.do(t, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
		var doc struct {
			ID       uint   `json:"id"`
			FileType string `json:"file_type"`
			UserID   uint   `json:"user_id"`
		}
		if err := json.Unmarshal(env.Data, &doc); err != nil {
			t.Fatalf("decode document: %v", err)
		}
		if doc.ID == 0 {
			t.Error("document has no ID")
		}
		if doc.FileType != "txt" {
			t.Errorf("file type = %q, want %q", doc.FileType, "txt")
		}
	})

	t.Run("oversize", func(t *testing.T) {
		req := multipartUpload(t, "big.txt", []byte(strings.Repeat("a", testMaxBytes+1)))
		req.Header.Set("Authorization", "Bearer "+token)
		w, env := srv.do(t, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if env.Code != response.CodeFileTooLarge {
			t.Errorf("envelope code = %d, want %d", env.Code, response.CodeFileTooLarge)
		}
	})

	t.Run("disallowed extension", func(t *testing.T) {
		req := multipartUpload(t, "tool.exe", []byte("binary"))
		req.Header.Set("Authorization", "Bearer "+token)
		w, env := srv.do(t, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if env.Code != response.CodeFileTypeNotAllowed {
			t.Errorf("envelope code = %d, want %d", env.Code, response.CodeFileTypeNotAllowed)
		}
	})

	t.Run("missing form field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w, _ := srv.do(t, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		w, _ := srv.do(t, multipartUpload(t, "notes.txt", []byte("hi")))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestGetDocument_OwnershipResponses(t *testing.T) {
	srv := newTestServer(t)
	aliceToken := srv.register(t, "alice")
	bobToken := srv.register(t, "bob")
	docID := srv.uploadText(t, aliceToken, "alice.txt", "alice's notes")

	t.Run("owner reads", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/documents/%d", docID), nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		w, _ := srv.do(t, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	})

	t.Run("foreign document is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/documents/%d", docID), nil)
		req.Header.Set("Authorization", "Bearer "+bobToken)
		w, env := srv.do(t, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", w.Code)
		}
		if env.Code != response.CodeForbidden {
			t.Errorf("envelope code = %d, want %d", env.Code, response.CodeForbidden)
		}
	})

	t.Run("missing document is not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/documents/%d", docID+999), nil)
		req.Header.Set("Authorization", "Bearer "+aliceToken)
		w, env := srv.do(t, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
		if env.Code != response.CodeDocumentNotFound {
			t.Errorf("envelope code = %d, want %d", env.Code, response.CodeDocumentNotFound)
		}
	})
}

func TestListDocuments_OnlyOwn(t *testing.T) {
	srv := newTestServer(t)
	aliceToken := srv.register(t, "alice")
	bobToken := srv.register(t, "bob")
	srv.uploadText(t, aliceToken, "a1.txt", "alpha")
	srv.uploadText(t, aliceToken, "a2.txt", "beta")
	srv.uploadText(t, bobToken, "b1.txt", "gamma")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	w, env := srv.do(t, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var docs []struct {
		OriginalName string `json:"original_name"`
	}
	if err := json.Unmarshal(env.Data, &docs); err != nil {
		t.Fatalf("decode documents: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("alice sees %d documents, want 2", len(docs))
	}
	for _, d := range docs {
		if d.OriginalName == "b1.txt" {
			t.Error("alice sees bob's document")
		}
	}
}

func TestSummarizeDocument(t *testing.T) {
	srv := newTestServer(t)
	token := srv.register(t, "alice")
	docID := srv.uploadText(t, token, "notes.txt", "full document body")

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/documents/%d/summarize", docID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w, env := srv.do(t, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var data struct {
		DocumentID uint   `json:"document_id"`
		Summary    string `json:"summary"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if data.DocumentID != docID {
		t.Errorf("document_id = %d, want %d", data.DocumentID, docID)
	}
	if data.Summary != "stub summary" {
		t.Errorf("summary = %q, want %q", data.Summary, "stub summary")
	}
}
