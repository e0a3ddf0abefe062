// Package socketserver implements the TCP script server.
//
// Every accepted connection is served by its own Handler, spawned through
// the server's Spawner. There is no worker pool and no queue; the only
// state shared between workers is the server's stop flag.
//
// # Protocol
//
// A request is a script framed by sentinel lines:
//
//	#!{\r\n
//	a = 2\r\n
//	b = 3\r\n
//	_result_ = a * b\r\n
//	#!}\r\n
//
// The response wraps exactly one serialized outcome in the same sentinels.
// A client sends #!exit\r\n in place of a begin line to end the session;
// no response is written. Lines outside a frame are ignored.
//
// # Connection States
//
//	AWAIT_FRAME -> EXECUTING -> RESPONDING -> AWAIT_FRAME
//
// CLOSED is reachable from every state. Script failures and results that
// cannot be serialized become failure outcomes and keep the connection
// open. Read and write failures close it.
//
// # Shutdown
//
// Server.Shutdown raises the stop flag, then closes the listener. Workers
// check the flag before every read and after decoding a request, so a
// request that arrives during shutdown is dropped. A request that is
// already executing completes and its response is written before the
// worker exits.
//
// # Usage
//
//	exec := engine.NewExecutor(engine.NewStarlark())
//	server, err := socketserver.NewServer(socketserver.Options{
//	    Address:  "localhost:8888",
//	    Executor: exec,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	<-ctx.Done()
//	server.Wait()
package socketserver
