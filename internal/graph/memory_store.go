package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/llitpux/cogstream/internal/model"
)

// MemoryStore is an in-process Store used by pipeline tests, grounded on
// the teacher's node/edge map shape (persistence/databases/memory_graph.go)
// generalized to the entities and relationships named in spec §3. It never
// issues Cypher; every operation is a direct map mutation guarded by mu.
type MemoryStore struct {
	mu sync.Mutex

	users    map[int64]model.User
	agents   map[int64]model.Agent
	chats    map[int64]model.Chat
	messages map[string]model.Message // keyed by uid
	byChat   map[int64][]string       // uid history, append order
	topics   map[string]model.Topic   // keyed by normalized title
	entities map[string]model.Entity  // keyed by name

	discusses map[string][]string // msgUID -> topic titles
	involves  map[string][]string // topic title -> entity names
	mentions  map[string][]string // msgUID -> entity names

	workingOn map[int64]string // agentTelegramID -> task ref

	snapshots []model.ThoughtSnapshot
	logs      []model.LogEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]model.User),
		agents:    make(map[int64]model.Agent),
		chats:     make(map[int64]model.Chat),
		messages:  make(map[string]model.Message),
		byChat:    make(map[int64][]string),
		topics:    make(map[string]model.Topic),
		entities:  make(map[string]model.Entity),
		discusses: make(map[string][]string),
		involves:  make(map[string][]string),
		mentions:  make(map[string][]string),
		workingOn: make(map[int64]string),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }

func (m *MemoryStore) UpsertUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.TelegramID] = u
	return nil
}

func (m *MemoryStore) UpsertAgent(ctx context.Context, a model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.TelegramID] = a
	return nil
}

func (m *MemoryStore) UpsertChat(ctx context.Context, c model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ChatID] = c
	return nil
}

func (m *MemoryStore) GetChat(ctx context.Context, chatID int64) (model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return model.Chat{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg model.Message, authorTelegramID int64, bySelf bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.UID]; exists {
		return false, nil
	}
	if bySelf {
		if _, ok := m.agents[authorTelegramID]; !ok {
			return false, fmt.Errorf("memory graph: unknown agent %d", authorTelegramID)
		}
	} else {
		if _, ok := m.users[authorTelegramID]; !ok {
			return false, fmt.Errorf("memory graph: unknown user %d", authorTelegramID)
		}
	}
	m.messages[msg.UID] = msg
	m.byChat[msg.ChatID] = append(m.byChat[msg.ChatID], msg.UID) // NEXT chain + LAST_EVENT collapse to append order
	return true, nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, chatID int64, k int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uids := m.byChat[chatID]
	n := len(uids)
	start := n - k
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, 0, n-start)
	for i := n - 1; i >= start; i-- {
		out = append(out, m.messages[uids[i]])
	}
	return out, nil
}

func (m *MemoryStore) UpsertTopic(ctx context.Context, t model.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(t.Title)
	existing, ok := m.topics[key]
	if ok && t.CreatedAt == 0 {
		t.CreatedAt = existing.CreatedAt
	}
	t.Title = key
	m.topics[key] = t
	return nil
}

func (m *MemoryStore) ActiveTopics(ctx context.Context) ([]model.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Topic, 0, len(m.topics))
	for _, t := range m.topics {
		if t.Status == model.TopicActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *MemoryStore) UpsertEntity(ctx context.Context, e model.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.Name] = e
	return nil
}

func (m *MemoryStore) LinkDiscusses(ctx context.Context, msgUID, topicTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(topicTitle)
	m.discusses[msgUID] = appendUnique(m.discusses[msgUID], key)
	return nil
}

func (m *MemoryStore) LinkInvolves(ctx context.Context, topicTitle, entityName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalize(topicTitle)
	m.involves[key] = appendUnique(m.involves[key], entityName)
	return nil
}

func (m *MemoryStore) LinkMentions(ctx context.Context, msgUID, entityName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mentions[msgUID] = appendUnique(m.mentions[msgUID], entityName)
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

func (m *MemoryStore) SetWorkingOn(ctx context.Context, agentTelegramID int64, taskRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workingOn[agentTelegramID] = taskRef // replaces any prior value
	return nil
}

func (m *MemoryStore) ClearWorkingOn(ctx context.Context, agentTelegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workingOn, agentTelegramID)
	return nil
}

func (m *MemoryStore) AppendThoughtSnapshot(ctx context.Context, agentTelegramID int64, snap model.ThoughtSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Timestamp == 0 {
		snap.Timestamp = time.Now().Unix()
	}
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *MemoryStore) AppendLogEntry(ctx context.Context, entry model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

// ThoughtSnapshots returns every snapshot recorded so far, for test
// assertions (spec §4.6 remember_fact).
func (m *MemoryStore) ThoughtSnapshots() []model.ThoughtSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ThoughtSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// WorkingOn returns the current task ref for agentTelegramID, for test
// assertions (spec §4.6 "newer intent supersedes").
func (m *MemoryStore) WorkingOn(agentTelegramID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.workingOn[agentTelegramID]
	return v, ok
}
