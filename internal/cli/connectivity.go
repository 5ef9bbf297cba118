package cli

import "fmt"

// Execute implements the go-flags Commander interface for ConnectivityCommand.
func (c *ConnectivityCommand) Execute(args []string) error {
	if c.Online == c.Offline {
		return fmt.Errorf("exactly one of --online or --offline is required")
	}

	signal := c.signal
	if signal == nil {
		client, closeFn, err := dialService(c.globals)
		if err != nil {
			return err
		}
		defer closeFn()
		signal = client.SetConnectivity
	}

	if err := signal(c.Online); err != nil {
		return err
	}
	if c.Online {
		fmt.Println("Signalled online; queued recordings will be retried.")
	} else {
		fmt.Println("Signalled offline; new recordings will be queued.")
	}
	return nil
}
