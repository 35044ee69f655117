package lua

import (
	"database/sql"

	"github.com/dokzlo13/huesync/internal/lua/modules"
)

// RuntimeDeps groups all dependencies needed by the Lua runtime.
type RuntimeDeps struct {
	Sessions  modules.SessionSource
	DB        *sql.DB // Backs the kv module; nil leaves it out
	QueueSize int     // Pending work items (default: 100)
}
