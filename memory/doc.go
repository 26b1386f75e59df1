// Package memory provides the layered conversation memory used by AgentHQ
// agents: a short-term conversation buffer and a long-term vector memory,
// composed behind a per-session Manager.
//
// Architecture:
//   - Buffer: ordered dialogue turns for one session (short-term)
//   - VectorMemory: embedded text fragments with similarity search (long-term)
//   - Manager: per-(owner, session) facade merging both into prompt context
//
// Backends are injected, never ambient:
//   - Store: vector storage (store/chromem for in-memory, store/sqlite for durable)
//   - Embedder: text-to-vector conversion (embedder/mock for tests,
//     embedder/onnx for offline local models, embedder/cache to wrap either)
//   - Summarizer: rolling conversation summarization (summarizer/claude)
//
// Each (owner, session) pair is expected to have exactly one active caller;
// the Manager serializes its own operations so two racing requests on the
// same session stay correct.
package memory
