package journal

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBoltJournal tests put, list, delete and persistence across reopen
func TestBoltJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")

	j, err := Open(path, slog.Default())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	older := Record{
		ID:          uuid.New(),
		TxHash:      common.HexToHash("0x01"),
		Method:      "saveTokens",
		From:        common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Data:        []byte{0xde, 0xad},
		ChainID:     1337,
		SubmittedAt: now.Add(-time.Minute),
	}
	newer := Record{
		ID:          uuid.New(),
		TxHash:      common.HexToHash("0x02"),
		Method:      "clearTokens",
		SubmittedAt: now,
	}

	require.NoError(t, j.Put(newer))
	require.NoError(t, j.Put(older))

	records, err := j.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older.ID, records[0].ID)
	assert.Equal(t, older.Data, records[0].Data)
	assert.Equal(t, newer.ID, records[1].ID)

	require.NoError(t, j.Delete(newer.ID))
	require.NoError(t, j.Delete(uuid.New()))
	require.NoError(t, j.Close())

	reopened, err := Open(path, slog.Default())
	require.NoError(t, err)
	defer reopened.Close()

	records, err = reopened.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, older.TxHash, records[0].TxHash)
	assert.Equal(t, older.From, records[0].From)
	assert.True(t, older.SubmittedAt.Equal(records[0].SubmittedAt))
}
