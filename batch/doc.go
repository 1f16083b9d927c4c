/*
Package batch defines the domain model of the Gemini batch pipeline: the
lifecycle state machine, the persisted Batch and BatchRequest records, the
ephemeral Result decoded from an API result line, payload serializers, and
the callback handler registry.

# State machine

A batch moves Pending → Submitted → Running → one of {Completed, Failed,
Cancelled, Expired}. The last four are terminal and absorbing: once reached,
no stage may move the batch again. Remote job states map onto this set via
FromAPIState; unrecognised remote states map to StateFailed.

# Core types

  - Batch / BatchRequest: gorm-backed records. A request's Key is unique
    within its batch and is the only correlation handle between a submitted
    request and its result line.
  - Result: the decoded outcome of one result line. Text extracts the final
    answer (non-thought parts of the first candidate), Thinking the
    reasoning parts, StructuredOutput the JSON-parsed answer.
  - PayloadSerializer: closed set of request-to-payload converters
    (RawSerializer, TextSerializer, StructuredSerializer), chosen by the
    caller's entry point.
  - HandlerRegistry: maps stable string keys to result/completion callbacks;
    batch records store only the key.
*/
package batch
