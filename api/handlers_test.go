package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/chxlky/taskboard/database"
	"github.com/chxlky/taskboard/integrations"
	"github.com/chxlky/taskboard/internal/avatars"
	"github.com/chxlky/taskboard/internal/board"
	"github.com/chxlky/taskboard/internal/events"
	"github.com/chxlky/taskboard/internal/metrics"
	"github.com/chxlky/taskboard/internal/models"
	"github.com/chxlky/taskboard/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubGenerator struct {
	description string
	err         error
}

func (g stubGenerator) Generate(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", integrations.ErrEmptyTitle
	}
	return g.description, g.err
}

type stubTrello struct {
	board *models.TrelloBoard
}

func (s stubTrello) FetchBoard(ctx context.Context, boardID string) (*models.TrelloBoard, error) {
	if s.board == nil || s.board.ID != boardID {
		return nil, errors.New("trello API returned non-200 status: 404 Not Found")
	}
	return s.board, nil
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := database.NewStore(db)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	bus := events.NewBus(rdb)
	registry := board.NewRegistry(store, store, events.NewBoardNotifier(bus), board.Options{Logger: zap.NewNop()})
	t.Cleanup(registry.Close)

	avatarStore, err := avatars.NewStore(filepath.Join(t.TempDir(), "avatars"), 1024)
	if err != nil {
		t.Fatalf("avatar store: %v", err)
	}

	h := &Handler{
		Store:     store,
		Boards:    registry,
		Auth:      session.NewAuthenticator(store),
		Sessions:  session.NewProvider(rdb, "test-secret", time.Hour),
		Bus:       bus,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Avatars:   avatarStore,
		Generator: stubGenerator{description: "A fun little task"},
		Trello: stubTrello{board: &models.TrelloBoard{
			ID:   "trello-1",
			Name: "From Trello",
			Lists: []models.TrelloListData{
				{ID: "tl1", Name: "Backlog", Pos: 1},
				{ID: "tl2", Name: "Done", Pos: 2},
			},
			Cards: []models.TrelloCardData{
				{ID: "c1", Name: "Card", ListID: "tl1", Pos: 100},
			},
		}},
	}
	r := gin.New()
	h.Register(r)
	return &testServer{router: r, handler: h}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func (s *testServer) register(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"full_name": "Test User",
		"email":     email,
		"password":  "secret123",
	})
	expectStatus(t, w, http.StatusCreated)
	return decode[struct {
		Token string `json:"token"`
	}](t, w).Token
}

type idResponse struct {
	ID string `json:"id"`
}

func (s *testServer) create(t *testing.T, path, token string, body any) string {
	t.Helper()
	w := s.do(t, http.MethodPost, path, token, body)
	expectStatus(t, w, http.StatusCreated)
	return decode[idResponse](t, w).ID
}

type viewResponse struct {
	Lists []struct {
		ID    string        `json:"id"`
		Name  string        `json:"name"`
		Tasks []models.Task `json:"tasks"`
	} `json:"lists"`
	Dragging *models.Task `json:"dragging"`
}

func (v viewResponse) taskIDs(listID string) []string {
	var ids []string
	for _, l := range v.Lists {
		if l.ID == listID {
			for _, t := range l.Tasks {
				ids = append(ids, t.ID)
			}
		}
	}
	return ids
}

type moveResponse struct {
	Moved bool     `json:"moved"`
	Move  moveView `json:"move"`
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodGet, "/api/health", "", nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/metrics", "", nil), http.StatusOK)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"full_name": "Al", "email": "al@example.com", "password": "secret123"})
	expectStatus(t, w, http.StatusBadRequest)
	w = s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"full_name": "Alan", "email": "al@example.com", "password": "12345"})
	expectStatus(t, w, http.StatusBadRequest)

	token := s.register(t, "alan@example.com")
	w = s.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"full_name": "Alan", "email": "alan@example.com", "password": "secret123"})
	expectStatus(t, w, http.StatusConflict)

	expectStatus(t, s.do(t, http.MethodGet, "/api/session", "", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/session", "garbage", nil), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/session", token, nil), http.StatusOK)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alan@example.com", "password": "wrong-one"})
	expectStatus(t, w, http.StatusUnauthorized)
	w = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alan@example.com", "password": "secret123"})
	expectStatus(t, w, http.StatusOK)

	w = s.do(t, http.MethodPatch, "/api/profile", token, gin.H{"full_name": "Alan Turing"})
	expectStatus(t, w, http.StatusOK)
	w = s.do(t, http.MethodGet, "/api/profile", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[models.User](t, w).FullName; got != "Alan Turing" {
		t.Errorf("full name: got %q", got)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/logout", token, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/session", token, nil), http.StatusUnauthorized)
}

func (s *testServer) uploadAvatar(t *testing.T, token string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "me.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/profile/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestProfileAvatar(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "pic@example.com")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	w := s.uploadAvatar(t, token, png)
	expectStatus(t, w, http.StatusOK)
	first := decode[models.User](t, w).AvatarURL
	if !strings.HasPrefix(first, avatars.URLPrefix) {
		t.Fatalf("avatar url: got %q", first)
	}
	expectStatus(t, s.do(t, http.MethodGet, first, "", nil), http.StatusOK)

	// Uploads in the same millisecond would collide on the file name.
	time.Sleep(2 * time.Millisecond)
	w = s.uploadAvatar(t, token, png)
	expectStatus(t, w, http.StatusOK)
	second := decode[models.User](t, w).AvatarURL
	if second == first {
		t.Fatalf("replacement reused url %q", second)
	}
	expectStatus(t, s.do(t, http.MethodGet, first, "", nil), http.StatusNotFound)

	w = s.do(t, http.MethodGet, "/api/profile", token, nil)
	if got := decode[models.User](t, w).AvatarURL; got != second {
		t.Errorf("profile avatar: got %q, want %q", got, second)
	}

	expectStatus(t, s.uploadAvatar(t, token, []byte("plain text")), http.StatusUnsupportedMediaType)
	expectStatus(t, s.uploadAvatar(t, token, append(png, make([]byte, 2048)...)), http.StatusRequestEntityTooLarge)

	w = s.do(t, http.MethodDelete, "/api/profile/avatar", token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[models.User](t, w).AvatarURL; got != "" {
		t.Errorf("avatar after delete: got %q", got)
	}
	expectStatus(t, s.do(t, http.MethodGet, second, "", nil), http.StatusNotFound)
}

func TestBoardMoves(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "grace@example.com")

	boardID := s.create(t, "/api/boards", token, gin.H{"title": "Sprint"})
	todo := s.create(t, "/api/boards/"+boardID+"/lists", token, gin.H{"name": "Todo"})
	done := s.create(t, "/api/boards/"+boardID+"/lists", token, gin.H{"name": "Done"})
	t1 := s.create(t, "/api/lists/"+todo+"/tasks", token, gin.H{"title": "Write tests"})
	t2 := s.create(t, "/api/lists/"+todo+"/tasks", token, gin.H{"title": "Ship it"})

	w := s.do(t, http.MethodGet, "/api/boards/"+boardID, token, nil)
	expectStatus(t, w, http.StatusOK)
	view := decode[viewResponse](t, w)
	if got := view.taskIDs(todo); len(got) != 2 || got[0] != t1 || got[1] != t2 {
		t.Fatalf("todo tasks: got %v", got)
	}

	// Dropping onto the current list changes nothing.
	w = s.do(t, http.MethodPost, "/api/boards/"+boardID+"/moves", token, gin.H{"task_id": t1, "over_id": todo, "over_kind": "list"})
	expectStatus(t, w, http.StatusOK)
	if decode[moveResponse](t, w).Moved {
		t.Error("drop onto own list reported a move")
	}

	w = s.do(t, http.MethodPost, "/api/boards/"+boardID+"/moves?wait=true", token, gin.H{"task_id": t1, "over_id": done, "over_kind": "list"})
	expectStatus(t, w, http.StatusOK)
	mv := decode[moveResponse](t, w)
	if !mv.Moved || mv.Move.Phase != "PERSISTED" || mv.Move.ToListID != done {
		t.Fatalf("move: %+v", mv)
	}
	stored, err := s.handler.Store.GetTask(context.Background(), t1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.ListID != done {
		t.Errorf("stored list: got %s, want %s", stored.ListID, done)
	}

	// Gesture API: drag t2 onto t1.
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/start", token, gin.H{"task_id": t2}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/start", token, gin.H{"task_id": t1}), http.StatusConflict)
	w = s.do(t, http.MethodGet, "/api/boards/"+boardID, token, nil)
	if d := decode[viewResponse](t, w).Dragging; d == nil || d.ID != t2 {
		t.Errorf("dragging: got %+v", d)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/end", token, gin.H{"over_id": t1, "over_kind": "column"}), http.StatusBadRequest)

	w = s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/end?wait=true", token, gin.H{"over_id": t1, "over_kind": "task"})
	expectStatus(t, w, http.StatusOK)
	if mv := decode[moveResponse](t, w); !mv.Moved || mv.Move.Phase != "PERSISTED" {
		t.Fatalf("drag end: %+v", mv)
	}
	view = decode[viewResponse](t, s.do(t, http.MethodGet, "/api/boards/"+boardID, token, nil))
	if got := view.taskIDs(done); len(got) != 2 || got[0] != t2 || got[1] != t1 {
		t.Errorf("done tasks: got %v, want [%s %s]", got, t2, t1)
	}
	if len(view.taskIDs(todo)) != 0 {
		t.Errorf("todo should be empty, got %v", view.taskIDs(todo))
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/end", token, gin.H{"over_id": todo, "over_kind": "list"}), http.StatusConflict)

	// Ending a gesture without a target cancels it.
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/start", token, gin.H{"task_id": t1}), http.StatusOK)
	w = s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/end", token, nil)
	expectStatus(t, w, http.StatusOK)
	if decode[moveResponse](t, w).Moved {
		t.Error("cancelled gesture reported a move")
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/drag/cancel", token, nil), http.StatusOK)

	// Store writes are mirrored into the loaded engine.
	later := s.create(t, "/api/boards/"+boardID+"/lists", token, gin.H{"name": "Later"})
	expectStatus(t, s.do(t, http.MethodDelete, "/api/tasks/"+t2, token, nil), http.StatusOK)
	w = s.do(t, http.MethodPatch, "/api/tasks/"+t1, token, gin.H{"title": "Write more tests"})
	expectStatus(t, w, http.StatusOK)

	view = decode[viewResponse](t, s.do(t, http.MethodGet, "/api/boards/"+boardID, token, nil))
	if len(view.Lists) != 3 || view.Lists[2].ID != later {
		t.Errorf("lists: %+v", view.Lists)
	}
	if got := view.taskIDs(done); len(got) != 1 || got[0] != t1 {
		t.Errorf("done tasks after delete: got %v", got)
	}
	if title := view.Lists[1].Tasks[0].Title; title != "Write more tests" {
		t.Errorf("title: got %q", title)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/reload", token, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodDelete, "/api/boards/"+boardID, token, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/api/boards/"+boardID, token, nil), http.StatusNotFound)
}

func TestForeignBoardIsHidden(t *testing.T) {
	s := newTestServer(t)
	owner := s.register(t, "owner@example.com")
	other := s.register(t, "other@example.com")

	boardID := s.create(t, "/api/boards", owner, gin.H{"title": "Private"})
	listID := s.create(t, "/api/boards/"+boardID+"/lists", owner, gin.H{"name": "Todo"})
	taskID := s.create(t, "/api/lists/"+listID+"/tasks", owner, gin.H{"title": "Secret"})

	expectStatus(t, s.do(t, http.MethodGet, "/api/boards/"+boardID, other, nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/api/tasks/"+taskID, other, nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPatch, "/api/lists/"+listID, other, gin.H{"name": "Mine"}), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/api/boards/"+boardID+"/moves", other, gin.H{"task_id": taskID, "over_id": listID, "over_kind": "list"}), http.StatusNotFound)

	w := s.do(t, http.MethodGet, "/api/boards", other, nil)
	expectStatus(t, w, http.StatusOK)
	if boards := decode[struct {
		Boards []models.Board `json:"boards"`
	}](t, w).Boards; len(boards) != 0 {
		t.Errorf("other user sees %d boards", len(boards))
	}
}

func TestGenerate(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "ada@example.com")

	w := s.do(t, http.MethodPost, "/api/generate", token, gin.H{"title": "Water plants"})
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]string](t, w)["description"]; got != "A fun little task" {
		t.Errorf("description: got %q", got)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/generate", token, gin.H{"title": "   "}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/generate", token, gin.H{}), http.StatusBadRequest)

	s.handler.Generator = stubGenerator{err: errors.New("quota exceeded")}
	expectStatus(t, s.do(t, http.MethodPost, "/api/generate", token, gin.H{"title": "Water plants"}), http.StatusBadGateway)
}

func TestTrelloImport(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "kanban@example.com")

	expectStatus(t, s.do(t, http.MethodPost, "/api/imports/trello", token, gin.H{"board_id": "unknown"}), http.StatusBadGateway)

	w := s.do(t, http.MethodPost, "/api/imports/trello", token, gin.H{"board_id": "trello-1"})
	expectStatus(t, w, http.StatusCreated)
	imported := decode[struct {
		Board models.Board `json:"board"`
		Lists int          `json:"lists"`
		Tasks int          `json:"tasks"`
	}](t, w)
	if imported.Lists != 2 || imported.Tasks != 1 {
		t.Errorf("imported: %+v", imported)
	}

	view := decode[viewResponse](t, s.do(t, http.MethodGet, "/api/boards/"+imported.Board.ID, token, nil))
	if len(view.Lists) != 2 || view.Lists[0].Name != "Backlog" || len(view.Lists[0].Tasks) != 1 {
		t.Errorf("imported board view: %+v", view.Lists)
	}
}

func TestBoardEventsStream(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "stream@example.com")
	boardID := s.create(t, "/api/boards", token, gin.H{"title": "Live"})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/"+boardID+"/events?token="+token, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}

	note := board.Notification{
		Kind:    board.NotificationMoveRolledBack,
		Level:   "error",
		BoardID: boardID,
		TaskID:  "t1",
		Message: "Failed to move task",
	}
	if err := events.NewBoardNotifier(s.handler.Bus).Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if event != "" && data != "" {
			break
		}
	}
	if event != board.NotificationMoveRolledBack {
		t.Errorf("event: got %q", event)
	}
	if !strings.Contains(data, `"task_id":"t1"`) {
		t.Errorf("data: got %q", data)
	}
}
