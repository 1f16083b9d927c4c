/*
Package gemini is the HTTP client for the Gemini batch and file APIs.

Client covers batch creation (inline requests or an uploaded file),
status lookup, listing, cancellation, deletion, media upload and results
download. All calls authenticate with the x-goog-api-key header and return
*APIError for structured non-2xx responses, so callers can distinguish a
remote rejection from a transport failure.

Uploader builds the JSONL submission format ({"key":...,"request":...} per
line) and estimates its serialized size, which drives inline-versus-file
input mode selection before any upload happens.
*/
package gemini
