// Package frame implements the on-disk envelope around encoded records.
//
// Every persisted file is a single frame. The layout is fixed:
//
//	+-------------+--------+---------+----------------+
//	| magic (4 B) | flag   | body    | CRC-32C (8 B)  |
//	| big-endian  | (1 B)  |         | big-endian     |
//	+-------------+--------+---------+----------------+
//
// The flag byte selects the body form, raw or zstd compressed. Encode
// compresses automatically once the payload exceeds a fixed threshold,
// small payloads are stored as-is because the zstd header would outweigh
// the gain. The trailing checksum is CRC-32C (Castagnoli) over the flag
// and the body, widened to eight bytes to keep the layout stable if the
// checksum is ever upgraded.
//
// Decode is the single trust boundary for data read back from disk: a
// torn write, truncation or bit rot surfaces as ErrCorruptFrame here and
// never reaches record decoding. Callers handle corruption by falling
// back to a backup copy, Decode itself never does.
package frame
