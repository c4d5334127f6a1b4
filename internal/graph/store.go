package graph

import (
	"context"
	"errors"
	"time"

	"github.com/llitpux/cogstream/internal/model"
)

// ErrNotFound is returned by Store lookups that find no matching node.
var ErrNotFound = errors.New("graph: not found")

// Store is the domain-level contract Scribe, Thinker, Analyst, and
// Coordinator program against. It hides Cypher text behind named
// operations so every write obeys the invariants in spec §3 (single
// LAST_EVENT per Chat, idempotent upserts by natural key, never-delete
// history) exactly once, in one place.
type Store interface {
	// UpsertUser creates or updates a User by its unique telegram_id.
	UpsertUser(ctx context.Context, u model.User) error
	// UpsertAgent asserts the process-wide Agent identity.
	UpsertAgent(ctx context.Context, a model.Agent) error
	// UpsertChat creates or updates a Chat by its unique chat_id.
	UpsertChat(ctx context.Context, c model.Chat) error
	// GetChat returns the Chat by chat_id, or ErrNotFound if it hasn't been
	// upserted yet.
	GetChat(ctx context.Context, chatID int64) (model.Chat, error)

	// AppendMessage creates Message if its uid does not already exist,
	// links it to Day/Year, links authorship (AUTHORED for user, GENERATED
	// for agent), and re-points Chat's LAST_EVENT/NEXT chain. Returns
	// (created=false, nil) when uid already existed — the call is a no-op
	// per spec §4.2 invariant 1.
	AppendMessage(ctx context.Context, msg model.Message, authorTelegramID int64, bySelf bool) (created bool, err error)

	// RecentMessages returns up to k messages most recently appended to
	// chatID, newest first, walking the NEXT chain backward from LAST_EVENT.
	RecentMessages(ctx context.Context, chatID int64, k int) ([]model.Message, error)

	// UpsertTopic creates or updates a Topic by normalized title.
	UpsertTopic(ctx context.Context, t model.Topic) error
	// ActiveTopics lists all Topics with status=active.
	ActiveTopics(ctx context.Context) ([]model.Topic, error)
	// UpsertEntity creates or updates an Entity by unique name.
	UpsertEntity(ctx context.Context, e model.Entity) error

	// LinkDiscusses records Message-[DISCUSSES]->Topic.
	LinkDiscusses(ctx context.Context, msgUID, topicTitle string) error
	// LinkInvolves records Topic-[INVOLVES]->Entity.
	LinkInvolves(ctx context.Context, topicTitle, entityName string) error
	// LinkMentions records Message-[MENTIONS]->Entity.
	LinkMentions(ctx context.Context, msgUID, entityName string) error

	// SetWorkingOn replaces any existing Agent-[WORKING_ON]->Task with a
	// fresh one identified by taskRef (spec §4.6: the newer intent supersedes).
	SetWorkingOn(ctx context.Context, agentTelegramID int64, taskRef string) error
	// ClearWorkingOn deletes the Agent's WORKING_ON edge, if any.
	ClearWorkingOn(ctx context.Context, agentTelegramID int64) error

	// AppendThoughtSnapshot writes an immutable ThoughtSnapshot linked
	// Agent-[THOUGHT]->ThoughtSnapshot in PrimaryMemory.
	AppendThoughtSnapshot(ctx context.Context, agentTelegramID int64, snap model.ThoughtSnapshot) error
	// AppendLogEntry writes an immutable LogEntry into ThoughtLog.
	AppendLogEntry(ctx context.Context, entry model.LogEntry) error

	Ping(ctx context.Context) error
	Close() error
}

// dayAndYear derives the Day/Year natural keys for a Unix timestamp, UTC.
func dayAndYear(epochSeconds int64) (day string, year int, hhmmss string) {
	t := time.Unix(epochSeconds, 0).UTC()
	return t.Format("2006-01-02"), t.Year(), t.Format("15:04:05")
}
