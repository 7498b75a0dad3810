// Package handlers implements the resource types of the local engine.
//
//   - exec runs commands, guarded by onlyif, unless and creates.
//   - file manages files and directories with content and mode.
//   - package drives apt, dnf, yum or zypper.
//   - service drives systemctl.
//   - notify logs a message.
//
// Every handler that shells out does so through a Runner, OSRunner on a
// real host. Register installs them all on an engine:
//
//	eng := engine.New(engine.WithLogger(logger))
//	if err := handlers.Register(eng, handlers.OSRunner{}); err != nil {
//		return err
//	}
package handlers
