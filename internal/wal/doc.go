/*
WAL is the file-backed event store: an append-only, strictly ordered log of
domain events.

# Module
  - writer: single goroutine assigns sequence numbers and appends records
  - reader: sequential record decoding with crc32 verification
  - playback: ordered replay across segments

# Source
  - intent accepted / rejected from platform
  - execution reports from platform
  - risk transitions and resumes from platform
  - dead letters from dlq

# Produce
  - replay stream for recovery and the replay tool
*/
package wal
