// Package vectorindex runs the k-NN scan over chunk and session-centroid
// embeddings. Neither search must be emulated with an in-memory
// brute-force scan — both go through a vec0 virtual table's native cosine
// distance computation instead. See DESIGN.md decisions 1 and 5.
package vectorindex

import (
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/merr"
)

// ChunkVectorsTable and SessionVectorsTable name the two vec0 tables
// FullScan runs against.
const (
	ChunkVectorsTable   = "chunk_vectors"
	SessionVectorsTable = "session_access_vectors"
)

// Match is one result row from a full scan: the matched row's rowid and
// its cosine distance to the query vector (0 = identical direction, 2 =
// opposite).
type Match struct {
	RowID    int64
	Distance float64
}

// FullScan runs a k-NN search over the named vec0 table using sqlite-vec's
// full_scan, returning the k nearest rows by cosine distance. table must be
// one of the constants above — it's never user input, just interpolated
// into the query since vec0 doesn't accept a table name as a bound
// parameter. Returns KindInvariant on a query vector of the wrong
// dimension, KindStorage on any other scan failure.
func FullScan(db *sql.DB, table string, query []float32, k int) ([]Match, error) {
	if len(query) != embedding.Dimension {
		return nil, merr.New(merr.KindInvariant, "query vector has wrong dimension for vector index")
	}

	rows, err := db.Query(`
		SELECT rowid, distance
		FROM `+table+`
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, encodeVector(query), k)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "vector full scan", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.RowID, &m.Distance); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan vector match", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// encodeVector matches sqlite-vec's expected little-endian float32 blob
// format for a MATCH query parameter.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
