package config

// DefaultTemplate is written by `coder init`.
const DefaultTemplate = `---
api:
  endpoint: http://localhost:8080
  # gateway speaks the OpenAI protocol; gollm calls providers directly.
  backend: gateway
  max_retries: 0
  request_timeout: 2m

scm:
  kind: github
  owner: my-org
  repo: my-repo
  base_branch: main
  remote: origin
  # issue_template: .github/ISSUE_TEMPLATE/bug_report.md

agent:
  model: deepseek-r1-distill-llama-70b
  provider: groq
  # max_tokens: 8000
  pin_system_message: true
  session_timeout: 30m
  iteration_delay: 5s
  max_iterations: 0
  loop_detection: true
  loop_detection_window: 6
  language: go

languages:
  go:
    lint: golangci-lint run
    analyse: go vet ./...
    test: go test ./...
  rust:
    lint: cargo clippy -- -D warnings
    analyse: cargo check
    test: cargo test

logging:
  level: info
  format: text
`
