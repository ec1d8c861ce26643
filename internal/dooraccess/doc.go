// Package dooraccess integrates door-access controllers from several
// manufacturers behind a single Adapter contract.
//
// Adapters are built by a Factory from a manufacturer name (case-insensitive,
// short aliases accepted) and are returned unconnected:
//
//	factory := dooraccess.NewFactory(log)
//	adapter, err := factory.Create("hik")
//	if err != nil {
//	    return err
//	}
//	if err := adapter.Connect(ctx, "10.0.0.20", 80, nil); err != nil {
//	    return err
//	}
//	defer adapter.Disconnect(ctx)
//
//	adapter.RegisterEventListener(dooraccess.NewMQTTListener(mqttClient, adapter.Manufacturer(), log))
//	ok, err := adapter.OpenDoor(ctx, "1", "emp-042")
//
// # Session model
//
// An adapter holds at most one controller session. The session is live while
// a session token is held; every operation other than Connect, Disconnect,
// IsConnected, LastError and the timeout accessors fails with ErrNotConnected
// without touching the network when no session is live.
//
// # Events
//
// OpenDoor and CloseDoor notify registered listeners synchronously, in
// registration order, before returning. A listener that fails or panics is
// logged and skipped; it never changes the outcome of the operation.
//
// Events raised on the controller itself (card swipes, alarms, forced or
// propped doors) are read from the vendor event store by PollEvents, which
// every adapter implements through EventSource. A Supervisor drives it on a
// ticker together with reconnecting controllers that dropped off:
//
//	sup := dooraccess.NewSupervisor(15*time.Second, log)
//	sup.Add(dooraccess.Controller{ID: "lobby", Adapter: adapter, Host: "10.0.0.20", Port: 80})
//	go sup.Run(ctx)
//
// # Thread Safety
//
// An Adapter is intended for a single owner. Callers sharing one across
// goroutines must serialise Connect and Disconnect themselves. The Factory is
// safe for concurrent use.
package dooraccess
