package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"email":"a@b.com","password":"pw"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"T","token_type":"bearer","user":{"id":1,"email":"a@b.com","username":"a"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Login(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "T", resp.AccessToken)
	require.Equal(t, "a", resp.User.Username)
	require.Equal(t, int64(1), resp.User.ID)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"Invalid credentials"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "Invalid credentials", authErr.Message)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

func TestRegister_EmailConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/register", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"Email already registered"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Register(context.Background(), "a@b.com", "a", "pw")

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "Email already registered", authErr.Message)
}

func TestListSessions_CarriesBearerTokenAndParsesNaiveTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer T", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
            {"id":2,"user_id":1,"title":"Chat 2024-05-01 10:00","created_at":"2024-05-01T10:00:00.123456","updated_at":"2024-05-02T09:30:00"},
            {"id":1,"user_id":1,"title":"older","created_at":"2024-04-01T08:00:00Z","updated_at":"2024-04-01T08:00:00Z"}
        ]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("T")

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, int64(2), sessions[0].ID, "server order is preserved")
	require.Equal(t, 2024, sessions[0].CreatedAt.Year())
	require.Equal(t, 123456000, sessions[0].CreatedAt.Nanosecond())
	require.False(t, sessions[1].UpdatedAt.IsZero())
}

func TestListMessages_NullImagePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat/sessions/3/messages", r.URL.Path)
		io.WriteString(w, `[
            {"id":1,"session_id":3,"role":"user","content":"hi","image_path":null,"created_at":"2024-05-01T10:00:00"},
            {"id":2,"session_id":3,"role":"assistant","content":"hello","image_path":"uploads/1/3/x.png","created_at":"2024-05-01T10:00:05"}
        ]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	msgs, err := c.ListMessages(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Empty(t, msgs[0].ImagePath)
	require.Equal(t, "uploads/1/3/x.png", msgs[1].ImagePath)
}

func TestSendMessage_MultipartBody(t *testing.T) {
	img := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(img, []byte("not-really-a-png"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat/sessions/8/messages", r.URL.Path)
		require.Equal(t, "Bearer T", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "look at this", r.FormValue("text"))

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "cat.png", header.Filename)
		content, _ := io.ReadAll(file)
		require.Equal(t, "not-really-a-png", string(content))

		io.WriteString(w, `{"id":2,"session_id":8,"role":"assistant","content":"a cat","created_at":"2024-05-01T10:00:05"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("T")

	msg, err := c.SendMessage(context.Background(), 8, "look at this", img)
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, msg.Role)
}

func TestSendMessage_TextOnlyOmitsFilePart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "hello", r.FormValue("text"))
		_, _, err := r.FormFile("image")
		require.Error(t, err, "no image part expected")
		io.WriteString(w, `{"id":2,"session_id":8,"role":"assistant","content":"hi","created_at":"2024-05-01T10:00:05"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.SendMessage(context.Background(), 8, "hello", "")
	require.NoError(t, err)
}

func TestDeleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/chat/sessions/4", r.URL.Path)
		io.WriteString(w, `{"message":"Session deleted successfully"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.DeleteSession(context.Background(), 4))
}

func TestDeleteSession_NotFoundIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Session not found"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.DeleteSession(context.Background(), 4)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Session not found", apiErr.Detail)
}

func TestClearToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SetToken("T")
	c.ClearToken()

	_, err := c.ListSessions(context.Background())
	require.NoError(t, err)
}

func TestImageURL(t *testing.T) {
	c := NewClient("http://localhost:8000/")
	require.Equal(t, "http://localhost:8000/uploads/1/2/x.png", c.ImageURL("uploads/1/2/x.png"))
	require.Equal(t, "http://localhost:8000/uploads/1/2/x.png", c.ImageURL("/uploads/1/2/x.png"))
}

func TestDownloadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/uploads/1/2/pic.png", r.URL.Path)
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	path, err := c.DownloadImage(context.Background(), "uploads/1/2/pic.png")
	require.NoError(t, err)
	defer os.Remove(path)

	require.Equal(t, ".png", filepath.Ext(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "image-bytes", string(content))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/health", r.URL.Path)
		io.WriteString(w, `{"status":"healthy","timestamp":"2024-05-01T10:00:00"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", h.Status)
}
