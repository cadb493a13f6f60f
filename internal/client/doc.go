// Package client provides a Go client for the landing-bay dashboard server.
//
// It covers the REST surface (episode history, health) and opens relayed
// simulation sessions through the session package. It is used by the CLI
// and by integration tests.
//
// # Basic Usage
//
// Create a client and list past episodes:
//
//	c := client.New("http://localhost:3000/landing-bay-rl/", client.WithToken(token))
//	episodes, err := c.ListEpisodes(ctx)
//
// # Relayed Session
//
// Drive a session yourself:
//
//	ctrl, err := c.Connect(session.Callbacks{
//	    OnState: func(s protocol.State) {
//	        fmt.Printf("altitude %.1f\n", s.Altitude)
//	    },
//	    OnResult: func(r protocol.Result) {
//	        fmt.Printf("landed: %v\n", r.Success)
//	    },
//	})
//	defer ctrl.Close()
//
//	ctrl.Start(ctx, protocol.ModeManual)
//	ctrl.SendAction(0.6, -0.1)
//
// # Simplified Episode Helper
//
// For auto and train runs, use RunEpisode:
//
//	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
//	defer cancel()
//
//	run, err := c.RunEpisode(ctx, protocol.ModeAuto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d states, success=%v\n", len(run.States), run.Result.Success)
//
// # Thread Safety
//
// Client is safe for concurrent use. Session callbacks are invoked from the
// controller's read loop, so callback implementations must be thread-safe
// if they access shared state.
package client
