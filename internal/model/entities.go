// Package model defines the entity and relationship types that make up the
// temporal, append-only multi-graph backing the cognitive stream pipeline.
package model

import "fmt"

// ChatType enumerates the Telegram chat kinds the pipeline distinguishes.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
)

// TopicStatus tracks whether a Topic is still being actively discussed.
type TopicStatus string

const (
	TopicActive   TopicStatus = "active"
	TopicArchived TopicStatus = "archived"
)

// EntityType is the closed set of semantic entity categories Thinker emits.
type EntityType string

const (
	EntityTechnology EntityType = "Technology"
	EntityPerson     EntityType = "Person"
	EntityConcept    EntityType = "Concept"
	EntityTool       EntityType = "Tool"
)

// User is a human participant, created on first sight and never deleted.
type User struct {
	TelegramID int64  `json:"telegram_id"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username,omitempty"`
}

// Agent is the process-wide singleton identity of the bot itself.
type Agent struct {
	TelegramID int64  `json:"telegram_id"`
	ID         string `json:"id"`
	Name       string `json:"name"`
}

// Chat is a Telegram conversational context, created on first sight.
type Chat struct {
	ChatID int64    `json:"chat_id"`
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   ChatType `json:"type"`
}

// Message is an immutable atomic event: text plus identity and time.
// UID is the graph identity key and must be globally unique.
type Message struct {
	UID       string `json:"uid"`
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"` // epoch seconds
}

// MessageUID deterministically derives the graph-identity UID for a message.
func MessageUID(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// Year is a time node materialized idempotently by natural key.
type Year struct {
	Value int `json:"value"`
}

// Day is a time node materialized idempotently by natural key (ISO date).
type Day struct {
	Date string `json:"date"` // yyyy-mm-dd
}

// Topic is a semantic container for a conversation thread. Status mutates;
// the node itself is never deleted.
type Topic struct {
	Title       string      `json:"title"` // normalized: trimmed, case-folded
	Description string      `json:"description"`
	Status      TopicStatus `json:"status"`
	CreatedAt   int64       `json:"created_at"`
}

// Entity is a globally shared concept tag created by Thinker.
type Entity struct {
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
}

// ThoughtSnapshot is an immutable narrative artifact produced by Thinker.
type ThoughtSnapshot struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Narrative string `json:"narrative"`
	Model     string `json:"model"`
}

// LogEntry is an immutable prompt/response record, stored only in ThoughtLog.
type LogEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Model     string `json:"model"`
}

// PromptAtomLabel names the five node labels of the prompt subgraph.
type PromptAtomLabel string

const (
	LabelRole        PromptAtomLabel = "Role"
	LabelTask        PromptAtomLabel = "Task"
	LabelProtocol    PromptAtomLabel = "Protocol"
	LabelInstruction PromptAtomLabel = "Instruction"
	LabelRule        PromptAtomLabel = "Rule"
)

// PromptAtom is a single Role/Task/Protocol/Instruction/Rule node. Natural
// language content (Description/Content) is Ukrainian per spec §3 invariant 4;
// Name is an English identifier.
type PromptAtom struct {
	Label       PromptAtomLabel `json:"label"`
	Name        string          `json:"name"` // unique per label
	Description string          `json:"description,omitempty"`
	Content     string          `json:"content,omitempty"`
	Language    string          `json:"language"` // always "uk"
}

// Relationship labels used throughout the graph. Kept as named constants so
// Cypher-statement builders never hand-roll the literal string twice.
const (
	RelAuthored        = "AUTHORED"
	RelGenerated       = "GENERATED"
	RelThought         = "THOUGHT"
	RelHappenedIn      = "HAPPENED_IN"
	RelHappenedAt      = "HAPPENED_AT"
	RelMonth           = "MONTH"
	RelNext            = "NEXT"
	RelLastEvent       = "LAST_EVENT"
	RelDiscusses       = "DISCUSSES"
	RelInvolves        = "INVOLVES"
	RelMentions        = "MENTIONS"
	RelWorkingOn       = "WORKING_ON"
	RelPlaysRole       = "PLAYS_ROLE"
	RelResponsibleFor  = "RESPONSIBLE_FOR"
	RelFollowsProtocol = "FOLLOWS_PROTOCOL"
	RelFollows         = "FOLLOWS"
	RelComposedOf      = "COMPOSED_OF"
	RelEnforces        = "ENFORCES"
)
