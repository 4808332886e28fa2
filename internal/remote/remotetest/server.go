// Package remotetest runs an in-process stand-in for the remote store so the client
// packages can be tested end to end over real HTTP.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// User mirrors the stored record, password included. IDs are emitted as JSON numbers.
type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"isBlocked"`
	CreatedAt time.Time `json:"createdAt"`
}

type Feedback struct {
	ID       int       `json:"id"`
	Text     string    `json:"text"`
	Date     time.Time `json:"date"`
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
}

// Hold parks the next matching request until Release is called or the client gives up.
type Hold struct {
	arrived chan struct{}
	release chan struct{}
	onceArr sync.Once
	onceRel sync.Once
}

// Arrived is closed once the held request reaches the server.
func (h *Hold) Arrived() <-chan struct{} {
	return h.arrived
}

func (h *Hold) Release() {
	h.onceRel.Do(func() { close(h.release) })
}

type Server struct {
	srv    *httptest.Server
	mu     sync.Mutex
	nextID int

	users     map[int]User
	feedbacks map[int]Feedback
	calls     map[string]int
	failures  map[string]int
	holds     map[string][]*Hold
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		nextID:    1,
		users:     make(map[int]User),
		feedbacks: make(map[int]Feedback),
		calls:     make(map[string]int),
		failures:  make(map[string]int),
		holds:     make(map[string][]*Hold),
	}

	r := mux.NewRouter()
	r.Use(s.intercept)
	r.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users", s.createUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}", s.patchUser).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id}", s.deleteUser).Methods(http.MethodDelete)
	r.HandleFunc("/feedbacks", s.listFeedback).Methods(http.MethodGet)
	r.HandleFunc("/feedbacks", s.createFeedback).Methods(http.MethodPost)
	r.HandleFunc("/feedbacks/{id}", s.deleteFeedback).Methods(http.MethodDelete)

	s.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		s.releaseAll()
		s.srv.Close()
	})
	return s
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) AddUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.allocID()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
	return u
}

func (s *Server) AddFeedback(f Feedback) Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		f.ID = s.allocID()
	}
	if f.Date.IsZero() {
		f.Date = time.Now().UTC()
	}
	s.feedbacks[f.ID] = f
	return f
}

func (s *Server) User(id int) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Server) FeedbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feedbacks)
}

func (s *Server) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Calls counts requests by "METHOD /path" (query excluded), including failed ones.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Fail makes every matching request answer with status until Recover.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// HoldNext parks the next matching request.
func (s *Server) HoldNext(method, path string) *Hold {
	h := &Hold{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.holds[key] = append(s.holds[key], h)
	return h
}

func (s *Server) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hs := range s.holds {
		for _, h := range hs {
			h.Release()
		}
	}
}

func (s *Server) allocID() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.calls[key]++
		status := s.failures[key]
		var hold *Hold
		if queue := s.holds[key]; len(queue) > 0 {
			hold = queue[0]
			s.holds[key] = queue[1:]
		}
		s.mu.Unlock()

		if hold != nil {
			hold.onceArr.Do(func() { close(hold.arrived) })
			select {
			case <-hold.release:
			case <-r.Context().Done():
				return
			}
		}

		if status != 0 {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if v := q.Get("name"); q.Has("name") && u.Name != v {
			continue
		}
		if v := q.Get("email"); q.Has("email") && u.Email != v {
			continue
		}
		if v := q.Get("password"); q.Has("password") && u.Password != v {
			continue
		}
		out = append(out, u)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	u.ID = 0
	writeJSON(w, http.StatusCreated, s.AddUser(u))
}

func (s *Server) patchUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, found := s.users[id]
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{})
		return
	}
	current, _ := json.Marshal(u)
	var merged map[string]json.RawMessage
	_ = json.Unmarshal(current, &merged)
	for k, v := range patch {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	raw, _ := json.Marshal(merged)
	var updated User
	if err := json.Unmarshal(raw, &updated); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	updated.ID = id
	s.users[id] = updated
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.users[id]
	delete(s.users, id)
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) listFeedback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	out := make([]Feedback, 0, len(s.feedbacks))
	for _, f := range s.feedbacks {
		out = append(out, f)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Get("_sort") == "date" {
		desc := q.Get("_order") == "desc"
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].Date.After(out[j].Date)
			}
			return out[i].Date.Before(out[j].Date)
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createFeedback(w http.ResponseWriter, r *http.Request) {
	var f Feedback
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f.ID = 0
	writeJSON(w, http.StatusCreated, s.AddFeedback(f))
}

func (s *Server) deleteFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, found := s.feedbacks[id]
	delete(s.feedbacks, id)
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
