package cli

import "database/sql"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the SQLite database path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand runs the background service.
type ServeCommand struct {
	NoBrowser bool   `long:"no-browser" description:"Do not attach to a browser (protocol and sync only)"`
	LogLevel  string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// StatusCommand shows the local database and, when reachable, the live
// service state.
type StatusCommand struct {
	globals *GlobalFlags
	version string
	service requester // injectable for testing; nil means dial the service
}

// StartCommand opens a recording session.
type StartCommand struct {
	Title string `long:"title" description:"Procedure title"`
	Tab   int    `long:"tab" description:"Tab to record (default: active tab)"`

	globals *GlobalFlags
	service requester
}

// StopCommand closes the session and follows the upload.
type StopCommand struct {
	NoWait bool `long:"no-wait" description:"Return without waiting for the sync to finish"`

	globals *GlobalFlags
	service requester
}

// QueueCommand lists, retries or clears the offline queue.
type QueueCommand struct {
	Retry bool `long:"retry" description:"Retry queued recordings now"`
	Clear bool `long:"clear" description:"Discard every queued recording"`

	globals *GlobalFlags
	service requester
}

// DroppedCommand lists recordings that exhausted their retries.
type DroppedCommand struct {
	Limit int `long:"limit" description:"Maximum results" default:"20"`

	globals *GlobalFlags
}

// OpenCommand prints a synced procedure and its steps.
type OpenCommand struct {
	ID     string `long:"id" description:"Procedure ID (required)"`
	Format string `long:"format" description:"Output format: md | json | full" default:"md"`
	Expiry int    `long:"expires-in" description:"Signed screenshot URL lifetime in seconds" default:"3600"`

	globals *GlobalFlags
	remote  procedureReader // injectable for testing; nil means the configured remote
}

// AddCommand uploads a recording from a JSON file of captured steps.
type AddCommand struct {
	Title       string `long:"title" description:"Procedure title (required)"`
	Description string `long:"description" description:"Procedure description"`
	StepsFile   string `long:"steps-file" description:"Path to a JSON array of captured steps (required)"`

	globals *GlobalFlags
	service requester
}

// PruneCommand removes old dropped recordings.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Retention period (e.g., 30d)" default:"30d"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
}

// PurgeCommand deletes ALL local data with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	db      *sql.DB // injectable for testing; nil means open default DB
}

// LoginCommand signs in to the remote store through the service.
type LoginCommand struct {
	Email string `long:"email" description:"Account email (default: remote.email from config)"`

	globals *GlobalFlags
	service requester
}

// LogoutCommand signs out.
type LogoutCommand struct {
	globals *GlobalFlags
	service requester
}

// ConnectivityCommand reports a network change to the service.
type ConnectivityCommand struct {
	Online  bool `long:"online" description:"Signal that the network is back"`
	Offline bool `long:"offline" description:"Signal that the network is gone"`

	globals *GlobalFlags
	signal  func(online bool) error
}
