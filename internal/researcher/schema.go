package researcher

// schemaSummary describes PrimaryMemory's node labels and relationships to
// the query-generating LLM, so it can emit Cypher without a live schema
// introspection round-trip. Kept in sync with spec §3's entity/relationship
// inventory.
const schemaSummary = `PrimaryMemory graph schema:

Nodes:
  User {telegram_id, id, name, username}
  Agent {telegram_id, id, name}
  Chat {chat_id, id, name, type}
  Message {uid, message_id, text, created_at}
  Year {value}
  Day {date}
  Topic {title, description, status, created_at}
  Entity {name, type, description}

Relationships:
  (User)-[:AUTHORED]->(Message)
  (Agent)-[:GENERATED]->(Message)
  (Message)-[:HAPPENED_IN]->(Chat)
  (Message)-[:HAPPENED_AT]->(Day)
  (Year)-[:MONTH]->(Day)
  (Message)-[:NEXT]->(Message)
  (Chat)-[:LAST_EVENT]->(Message)
  (Message)-[:DISCUSSES]->(Topic)
  (Topic)-[:INVOLVES]->(Entity)
  (Message)-[:MENTIONS]->(Entity)

Only MATCH/OPTIONAL MATCH/WHERE/RETURN/ORDER BY/LIMIT clauses are permitted.
Every query must include a LIMIT clause of 50 or less.`
