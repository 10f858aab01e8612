package store

// Survey responses must outlive their conversation (the retention sweep
// deletes the conversation row but keeps them), so messages carries no
// foreign key to conversations.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id                   uuid PRIMARY KEY,
	address              text NOT NULL UNIQUE,
	display_name         text NOT NULL DEFAULT '',
	channel              text NOT NULL,
	state                text NOT NULL,
	filter_passed        boolean,
	crisis_level         integer,
	assigned_to          uuid,
	assigned_at          timestamptz,
	unread_count         integer NOT NULL DEFAULT 0,
	last_message         text NOT NULL DEFAULT '',
	last_message_at      timestamptz,
	auto_message_count   integer NOT NULL DEFAULT 0,
	last_auto_message_at timestamptz,
	closed_at            timestamptz,
	created_at           timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_state ON conversations (state);

CREATE TABLE IF NOT EXISTS messages (
	id              uuid PRIMARY KEY,
	conversation_id uuid NOT NULL,
	direction       text NOT NULL,
	body            text NOT NULL,
	status          text NOT NULL DEFAULT '',
	provider_id     text NOT NULL DEFAULT '',
	created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

-- Redelivered webhooks carry the same provider message id; the partial
-- unique index turns them into no-op inserts.
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_inbound_provider
	ON messages (provider_id)
	WHERE direction = 'inbound' AND provider_id <> '';

CREATE TABLE IF NOT EXISTS volunteers (
	id            uuid PRIMARY KEY,
	name          text NOT NULL DEFAULT '',
	role          text NOT NULL DEFAULT 'volunteer',
	status        text NOT NULL DEFAULT 'pending',
	is_on_duty    boolean NOT NULL DEFAULT false,
	phone         text NOT NULL DEFAULT '',
	push_endpoint text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS channels (
	name    text PRIMARY KEY,
	enabled boolean NOT NULL DEFAULT false
);
`
