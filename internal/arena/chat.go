package arena

type ChatKind string

const (
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
)

// Chat is a group context that owns at most one active tournament.
type Chat struct {
	ID       int64    `db:"id"`
	Kind     ChatKind `db:"kind"`
	Title    string   `db:"title"`
	Username *string  `db:"username"`
}

type User struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
}
