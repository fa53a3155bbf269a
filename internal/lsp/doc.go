// Package lsp implements a Language Server Protocol client over a child
// process's stdio.
//
// The package has three layers:
//
//   - Frame: Content-Length framing per the LSP base protocol
//   - Transport: JSON-RPC 2.0 request correlation over a framed stream
//   - Server: process supervision, handshake, and typed LSP requests
//
// A Server spawns the language server executable (rust-analyzer by
// default), wires its stdout and stdin into a Transport, performs the
// initialize handshake, and then serves requests until Shutdown:
//
//	srv := lsp.NewServer(lsp.ServerConfig{WorkspaceRoot: "/path/to/project"})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(ctx)
//
//	srv.OpenDocument(ctx, "/path/to/project/src/main.rs")
//	hover, err := srv.Hover(ctx, "/path/to/project/src/main.rs", lsp.Position{Line: 10, Character: 5})
//
// Responses arrive asynchronously and possibly out of order; the Transport
// matches each one to its caller by request id. Server-initiated
// notifications (diagnostics, log messages) are handled by registered
// callbacks and never block the read loop.
//
// Extension methods outside the LSP standard go through Server.Call with a
// raw result target.
package lsp
