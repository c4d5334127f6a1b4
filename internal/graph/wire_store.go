package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/llitpux/cogstream/internal/model"
)

// WireStore implements Store by compiling each operation to a Cypher
// statement and running it through a Graph (normally a WireClient). The
// upsert-by-natural-key shape mirrors the teacher's ON CONFLICT upsert
// idiom, translated from SQL to Cypher MERGE/SET.
type WireStore struct {
	g          Graph
	primary    string
	thoughtLog string

	chatLocksMu sync.Mutex
	chatLocks   map[int64]*sync.Mutex
}

// NewWireStore binds g to the two logical graph names.
func NewWireStore(g Graph, primaryGraph, thoughtLogGraph string) *WireStore {
	return &WireStore{g: g, primary: primaryGraph, thoughtLog: thoughtLogGraph, chatLocks: make(map[int64]*sync.Mutex)}
}

// chatLock returns the serializing lock for chatID, creating it on first
// use. Scribe writes for a chat must be strictly ordered: AppendMessage reads
// the chat's current LAST_EVENT, then repoints it, and two concurrent writers
// for the same chat racing that read-then-write would both chain off the
// same previous message and corrupt the NEXT/LAST_EVENT ordering.
func (s *WireStore) chatLock(chatID int64) *sync.Mutex {
	s.chatLocksMu.Lock()
	defer s.chatLocksMu.Unlock()
	l, ok := s.chatLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		s.chatLocks[chatID] = l
	}
	return l
}

func (s *WireStore) Ping(ctx context.Context) error { return s.g.Ping(ctx) }
func (s *WireStore) Close() error                   { return s.g.Close() }

func (s *WireStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.g.Query(ctx, s.primary,
		`MERGE (u:User {telegram_id: $telegram_id}) SET u.id = $id, u.name = $name, u.username = $username`,
		map[string]any{"telegram_id": u.TelegramID, "id": u.ID, "name": u.Name, "username": u.Username})
	return err
}

func (s *WireStore) UpsertAgent(ctx context.Context, a model.Agent) error {
	_, err := s.g.Query(ctx, s.primary,
		`MERGE (a:Agent {telegram_id: $telegram_id}) SET a.id = $id, a.name = $name`,
		map[string]any{"telegram_id": a.TelegramID, "id": a.ID, "name": a.Name})
	return err
}

func (s *WireStore) UpsertChat(ctx context.Context, c model.Chat) error {
	_, err := s.g.Query(ctx, s.primary,
		`MERGE (c:Chat {chat_id: $chat_id}) SET c.id = $id, c.name = $name, c.type = $type`,
		map[string]any{"chat_id": c.ChatID, "id": c.ID, "name": c.Name, "type": string(c.Type)})
	return err
}

func (s *WireStore) GetChat(ctx context.Context, chatID int64) (model.Chat, error) {
	res, err := s.g.ROQuery(ctx, s.primary,
		`MATCH (c:Chat {chat_id: $chat_id}) RETURN c.chat_id AS chat_id, c.id AS id, c.name AS name, c.type AS type`,
		map[string]any{"chat_id": chatID})
	if err != nil {
		return model.Chat{}, err
	}
	if res.Empty() {
		return model.Chat{}, ErrNotFound
	}
	row := res.Rows[0]
	chatID64, _ := row["chat_id"].(int64)
	id, _ := row["id"].(string)
	name, _ := row["name"].(string)
	typ, _ := row["type"].(string)
	return model.Chat{ChatID: chatID64, ID: id, Name: name, Type: model.ChatType(typ)}, nil
}

func (s *WireStore) AppendMessage(ctx context.Context, msg model.Message, authorTelegramID int64, bySelf bool) (bool, error) {
	lock := s.chatLock(msg.ChatID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.g.Query(ctx, s.primary,
		`MATCH (m:Message {uid: $uid}) RETURN m.uid AS uid`, map[string]any{"uid": msg.UID})
	if err != nil {
		return false, err
	}
	if !existing.Empty() {
		return false, nil
	}

	day, year, hhmmss := dayAndYear(msg.CreatedAt)
	authorLabel, authorKeyField, rel := "User", "telegram_id", "AUTHORED"
	if bySelf {
		authorLabel, rel = "Agent", "GENERATED"
	}

	stmt := fmt.Sprintf(`
MERGE (y:Year {value: $year})
MERGE (d:Day {date: $day})
MERGE (y)-[:MONTH {number: $month}]->(d)
CREATE (m:Message {uid: $uid, chat_id: $chat_id, message_id: $message_id, text: $text, created_at: $created_at})
MERGE (c:Chat {chat_id: $chat_id})
MATCH (author:%s {%s: $author_id})
CREATE (author)-[:%s]->(m)
CREATE (m)-[:HAPPENED_IN]->(c)
CREATE (m)-[:HAPPENED_AT {time: $time}]->(d)
WITH c, m
OPTIONAL MATCH (c)-[le:LAST_EVENT]->(prev:Message)
FOREACH (_ IN CASE WHEN prev IS NOT NULL THEN [1] ELSE [] END |
  CREATE (prev)-[:NEXT]->(m)
  DELETE le
)
CREATE (c)-[:LAST_EVENT]->(m)`, authorLabel, authorKeyField, rel)

	_, err = s.g.Query(ctx, s.primary, stmt, map[string]any{
		"uid": msg.UID, "chat_id": msg.ChatID, "message_id": msg.MessageID,
		"text": msg.Text, "created_at": msg.CreatedAt, "time": hhmmss,
		"day": day, "year": year, "month": int(time.Unix(msg.CreatedAt, 0).UTC().Month()),
		"author_id": authorTelegramID,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *WireStore) RecentMessages(ctx context.Context, chatID int64, k int) ([]model.Message, error) {
	res, err := s.g.ROQuery(ctx, s.primary, `
MATCH (c:Chat {chat_id: $chat_id})-[:LAST_EVENT]->(head:Message)
MATCH p = (m:Message)-[:NEXT*0..`+fmt.Sprintf("%d", k-1)+`]->(head)
WHERE (m)-[:HAPPENED_IN]->(c)
RETURN DISTINCT m.uid AS uid, m.chat_id AS chat_id, m.message_id AS message_id, m.text AS text, m.created_at AS created_at
ORDER BY m.created_at DESC
LIMIT $k`, map[string]any{"chat_id": chatID, "k": k})
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToMessage(row))
	}
	return out, nil
}

func rowToMessage(row Row) model.Message {
	get := func(k string) string { v, _ := row[k].(string); return v }
	getI := func(k string) int64 {
		switch v := row[k].(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
		return 0
	}
	return model.Message{
		UID: get("uid"), ChatID: getI("chat_id"), MessageID: getI("message_id"),
		Text: get("text"), CreatedAt: getI("created_at"),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *WireStore) UpsertTopic(ctx context.Context, t model.Topic) error {
	_, err := s.g.Query(ctx, s.primary,
		`MERGE (t:Topic {title: $title}) SET t.description = $description, t.status = $status, t.created_at = coalesce(t.created_at, $created_at)`,
		map[string]any{"title": normalize(t.Title), "description": t.Description, "status": string(t.Status), "created_at": t.CreatedAt})
	return err
}

func (s *WireStore) ActiveTopics(ctx context.Context) ([]model.Topic, error) {
	res, err := s.g.ROQuery(ctx, s.primary,
		`MATCH (t:Topic {status: "active"}) RETURN t.title AS title, t.description AS description, t.status AS status, t.created_at AS created_at`,
		nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Topic, 0, len(res.Rows))
	for _, row := range res.Rows {
		title, _ := row["title"].(string)
		desc, _ := row["description"].(string)
		status, _ := row["status"].(string)
		out = append(out, model.Topic{Title: title, Description: desc, Status: model.TopicStatus(status)})
	}
	return out, nil
}

func (s *WireStore) UpsertEntity(ctx context.Context, e model.Entity) error {
	_, err := s.g.Query(ctx, s.primary,
		`MERGE (e:Entity {name: $name}) SET e.type = $type, e.description = coalesce($description, e.description)`,
		map[string]any{"name": e.Name, "type": string(e.Type), "description": e.Description})
	return err
}

func (s *WireStore) LinkDiscusses(ctx context.Context, msgUID, topicTitle string) error {
	_, err := s.g.Query(ctx, s.primary,
		`MATCH (m:Message {uid: $uid}), (t:Topic {title: $title}) MERGE (m)-[:DISCUSSES]->(t)`,
		map[string]any{"uid": msgUID, "title": normalize(topicTitle)})
	return err
}

func (s *WireStore) LinkInvolves(ctx context.Context, topicTitle, entityName string) error {
	_, err := s.g.Query(ctx, s.primary,
		`MATCH (t:Topic {title: $title}), (e:Entity {name: $name}) MERGE (t)-[:INVOLVES]->(e)`,
		map[string]any{"title": normalize(topicTitle), "name": entityName})
	return err
}

func (s *WireStore) LinkMentions(ctx context.Context, msgUID, entityName string) error {
	_, err := s.g.Query(ctx, s.primary,
		`MATCH (m:Message {uid: $uid}), (e:Entity {name: $name}) MERGE (m)-[:MENTIONS]->(e)`,
		map[string]any{"uid": msgUID, "name": entityName})
	return err
}

func (s *WireStore) SetWorkingOn(ctx context.Context, agentTelegramID int64, taskRef string) error {
	_, err := s.g.Query(ctx, s.primary, `
MATCH (a:Agent {telegram_id: $agent_id})
OPTIONAL MATCH (a)-[old:WORKING_ON]->(:Task)
DELETE old
CREATE (a)-[:WORKING_ON]->(:Task {ref: $task_ref, started_at: $started_at})`,
		map[string]any{"agent_id": agentTelegramID, "task_ref": taskRef, "started_at": time.Now().Unix()})
	return err
}

func (s *WireStore) ClearWorkingOn(ctx context.Context, agentTelegramID int64) error {
	_, err := s.g.Query(ctx, s.primary, `
MATCH (a:Agent {telegram_id: $agent_id})-[w:WORKING_ON]->(t:Task)
DELETE w, t`, map[string]any{"agent_id": agentTelegramID})
	return err
}

func (s *WireStore) AppendThoughtSnapshot(ctx context.Context, agentTelegramID int64, snap model.ThoughtSnapshot) error {
	_, err := s.g.Query(ctx, s.primary, `
MATCH (a:Agent {telegram_id: $agent_id})
CREATE (a)-[:THOUGHT]->(:ThoughtSnapshot {id: $id, timestamp: $timestamp, narrative: $narrative, model: $model})`,
		map[string]any{"agent_id": agentTelegramID, "id": snap.ID, "timestamp": snap.Timestamp, "narrative": snap.Narrative, "model": snap.Model})
	return err
}

func (s *WireStore) AppendLogEntry(ctx context.Context, entry model.LogEntry) error {
	_, err := s.g.Query(ctx, s.thoughtLog, `
CREATE (:LogEntry {id: $id, timestamp: $timestamp, prompt: $prompt, response: $response, model: $model})`,
		map[string]any{"id": entry.ID, "timestamp": entry.Timestamp, "prompt": entry.Prompt, "response": entry.Response, "model": entry.Model})
	return err
}
