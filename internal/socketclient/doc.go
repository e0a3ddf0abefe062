// Package socketclient provides a client for the script server.
//
// A Client owns one TCP connection. Exec frames a script, sends it and
// reads back exactly one response frame, decoded with the payload format
// the server was started with. Close sends the exit command before closing
// the connection so the server ends the session cleanly.
//
// Basic Usage
//
//	client, err := socketclient.Dial(ctx, "localhost:8888", socketclient.Options{
//	    Format: payload.FormatJSON,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	doc, err := client.Exec(ctx, "a = 2\nb = 3\n_result_ = a * b")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !doc.Success {
//	    log.Fatal(doc.Msg)
//	}
//	value, err := client.Serializer().DecodeResult(doc)
//
// Probe dials and immediately exits, which is enough to check that a server
// is listening.
package socketclient
