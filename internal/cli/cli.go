package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve        *ServeCommand
	Status       *StatusCommand
	Start        *StartCommand
	Stop         *StopCommand
	Queue        *QueueCommand
	Dropped      *DroppedCommand
	Open         *OpenCommand
	Add          *AddCommand
	Prune        *PruneCommand
	Purge        *PurgeCommand
	Login        *LoginCommand
	Logout       *LogoutCommand
	Connectivity *ConnectivityCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "procedura"
	parser.LongDescription = "Record browser procedures step by step and sync them, with an offline queue."

	cmds := &commands{
		Serve:        &ServeCommand{globals: &globals, version: version},
		Status:       &StatusCommand{globals: &globals, version: version},
		Start:        &StartCommand{globals: &globals},
		Stop:         &StopCommand{globals: &globals},
		Queue:        &QueueCommand{globals: &globals},
		Dropped:      &DroppedCommand{globals: &globals},
		Open:         &OpenCommand{globals: &globals},
		Add:          &AddCommand{globals: &globals},
		Prune:        &PruneCommand{globals: &globals},
		Purge:        &PurgeCommand{globals: &globals},
		Login:        &LoginCommand{globals: &globals},
		Logout:       &LogoutCommand{globals: &globals},
		Connectivity: &ConnectivityCommand{globals: &globals},
	}

	parser.AddCommand("serve", "Run the background service", "Attach to the browser and answer recorder requests over NATS.", cmds.Serve)
	parser.AddCommand("status", "Show recording, sync and database state", "Show the recording session, sync queue, database statistics and whether the service is running.", cmds.Status)
	parser.AddCommand("start", "Start recording", "Start recording a procedure in the active tab.", cmds.Start)
	parser.AddCommand("stop", "Stop recording and sync", "Stop recording and follow the upload of the captured steps.", cmds.Stop)
	parser.AddCommand("queue", "Show or manage the offline queue", "List recordings waiting to be synced, retry them now or clear them.", cmds.Queue)
	parser.AddCommand("dropped", "List recordings that were given up on", "List recordings that exhausted their sync retries.", cmds.Dropped)
	parser.AddCommand("open", "Print a synced procedure", "Print a synced procedure and its steps with signed screenshot links.", cmds.Open)
	parser.AddCommand("add", "Sync steps from a file", "Sync a procedure from a JSON file of captured steps.", cmds.Add)
	parser.AddCommand("prune", "Remove old dropped recordings", "Remove dropped recordings older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL local data", "Delete ALL local procedura data. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("login", "Sign in", "Sign in to the remote store. The password is read from PROCEDURA_PASSWORD or stdin.", cmds.Login)
	parser.AddCommand("logout", "Sign out", "Sign out of the remote store.", cmds.Logout)
	parser.AddCommand("connectivity", "Signal a network change", "Tell the service the network went away or came back.", cmds.Connectivity)

	return parser, &globals, cmds
}

// Run is the main entry point for the procedura CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("procedura %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
