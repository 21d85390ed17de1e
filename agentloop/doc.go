// Package agentloop drives a language model through a tool-using workflow
// that fixes a reported issue, or refactors code, in a local repository.
//
// A Session owns one Conversation. Each iteration it sends the
// token-bounded view of the conversation with the workflow's tool
// declarations to a Completer, records the assistant reply with its
// thinking blocks stripped, executes the requested tools in order through
// an Executor and appends each result as a JSON Envelope followed by a
// steering message. The session ends when the model calls done, returns
// nothing usable, or runs out of time or iterations.
//
//	reg, _ := agentloop.NewToolRegistry(agentloop.WorkflowFix.Tools())
//	exec := agentloop.NewExecutor(cfg, tracker, repo, snapshot, &agentloop.LocalRunner{}, logger)
//	sess, _ := agentloop.NewSession(sessionCfg, client, reg, exec, agentloop.WithLogger(logger))
//	outcome, err := sess.Run(ctx)
package agentloop
