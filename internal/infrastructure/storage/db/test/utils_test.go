package db_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
	dbbadger "github.com/qortal/qortd/internal/infrastructure/storage/db/badger"
	"github.com/qortal/qortd/internal/infrastructure/storage/db/inmemory"
	"github.com/stretchr/testify/require"
	"github.com/thanhpk/randstr"
)

var codeHash = func() []byte {
	h := sha256.Sum256([]byte("test-acct"))
	return h[:]
}()

type repository struct {
	Name string
	ports.RepoManager
}

func (r repository) read(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.RunTransaction(context.Background(), true, query)
}

func (r repository) write(
	query func(context.Context) (interface{}, error),
) (interface{}, error) {
	return r.RunTransaction(context.Background(), false, query)
}

// createRepositories returns brand new repo managers, one per backend,
// closed when the test ends.
func createRepositories(t *testing.T) []repository {
	badgerRepoManager, err := dbbadger.NewRepoManager(t.TempDir(), nil, 0)
	require.NoError(t, err)
	inmemoryRepoManager := inmemory.NewRepoManager(0)

	t.Cleanup(func() {
		badgerRepoManager.Close()
		inmemoryRepoManager.Close()
	})

	return []repository{
		{Name: "badger", RepoManager: badgerRepoManager},
		{Name: "inmemory", RepoManager: inmemoryRepoManager},
	}
}

func makeRandomAT(creationHeight int) domain.ATData {
	return domain.ATData{
		Address:          randomAddress(),
		CreatorPublicKey: randomBytes(32),
		CodeHash:         codeHash,
		CreationHeight:   creationHeight,
		Creation:         int64(creationHeight) * 60000,
		IsExecutable:     true,
	}
}

// makeState returns a state row whose payload holds the given values, 8
// bytes each.
func makeState(
	address string, height int, creation int64, values ...uint64,
) domain.ATStateData {
	data := make([]byte, 0, len(values)*domain.DataValueSize)
	for _, v := range values {
		data = binary.BigEndian.AppendUint64(data, v)
	}
	return domain.ATStateData{
		ATAddress: address,
		Height:    height,
		Creation:  creation,
		StateHash: randomBytes(32),
		StateData: data,
	}
}

func randomAddress() string {
	return "Q" + randstr.String(33)
}

func randomHex(len int) string {
	return randstr.Hex(len)
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

func uint64Ptr(i uint64) *uint64 {
	return &i
}
