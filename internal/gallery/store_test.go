package gallery

import (
	"context"
	"path/filepath"
	"testing"

	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const testDim = 4

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return gdb
}

func seedStudent(t *testing.T, gdb *gorm.DB, datasetID uint, key, display string, vectors ...[]float64) {
	t.Helper()
	student := models.Student{
		DatasetID:   datasetID,
		Key:         key,
		DisplayName: display,
	}
	require.NoError(t, gdb.Create(&student).Error)
	for _, v := range vectors {
		encoded, err := models.EncodeVector(v)
		require.NoError(t, err)
		require.NoError(t, gdb.Create(&models.FaceEmbedding{
			StudentID: student.ID,
			Vector:    encoded,
		}).Error)
	}
}

func TestStoreLoad(t *testing.T) {
	gdb := openTestDB(t)

	ds := models.Dataset{Name: "cs-2024", Description: "Computer Science 2024"}
	require.NoError(t, gdb.Create(&ds).Error)
	seedStudent(t, gdb, ds.ID, "amit_kumar_1", "Amit Kumar",
		[]float64{0.1, 0.2, 0.3, 0.4},
		[]float64{0.2, 0.3, 0.4, 0.5},
	)
	seedStudent(t, gdb, ds.ID, "priya_singh_2", "Priya Singh",
		[]float64{0.9, 0.8, 0.7, 0.6},
	)

	store := NewStore(gdb, testDim)
	g, err := store.Load(context.Background(), "cs-2024")
	require.NoError(t, err)

	assert.Equal(t, "cs-2024", g.Dataset)
	assert.Equal(t, testDim, g.Dim)
	assert.Equal(t, []string{"amit_kumar_1", "priya_singh_2"}, g.Roster())
	assert.Equal(t, 3, g.EmbeddingCount())

	entry, ok := g.Student("amit_kumar_1")
	require.True(t, ok)
	assert.Equal(t, "Amit Kumar", entry.DisplayName)
	assert.Len(t, entry.Embeddings, 2)

	all := g.AllEmbeddings()
	assert.Len(t, all, 3)
}

func TestStoreLoad_DatasetNotFound(t *testing.T) {
	store := NewStore(openTestDB(t), testDim)
	_, err := store.Load(context.Background(), "no-such-dataset")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestStoreLoad_CorruptDimensionality(t *testing.T) {
	gdb := openTestDB(t)
	ds := models.Dataset{Name: "bad-dim"}
	require.NoError(t, gdb.Create(&ds).Error)
	seedStudent(t, gdb, ds.ID, "amit_kumar_1", "Amit Kumar", []float64{0.1, 0.2})

	store := NewStore(gdb, testDim)
	_, err := store.Load(context.Background(), "bad-dim")
	assert.ErrorIs(t, err, ErrDatasetCorrupt)
}

func TestStoreLoad_CorruptNonNumeric(t *testing.T) {
	gdb := openTestDB(t)
	ds := models.Dataset{Name: "bad-json"}
	require.NoError(t, gdb.Create(&ds).Error)

	student := models.Student{DatasetID: ds.ID, Key: "amit_kumar_1"}
	require.NoError(t, gdb.Create(&student).Error)
	require.NoError(t, gdb.Create(&models.FaceEmbedding{
		StudentID: student.ID,
		Vector:    datatypes.JSON([]byte(`["not","numbers"]`)),
	}).Error)

	store := NewStore(gdb, testDim)
	_, err := store.Load(context.Background(), "bad-json")
	assert.ErrorIs(t, err, ErrDatasetCorrupt)
}

func TestStoreLoad_StudentWithoutEmbeddings(t *testing.T) {
	gdb := openTestDB(t)
	ds := models.Dataset{Name: "empty-student"}
	require.NoError(t, gdb.Create(&ds).Error)
	require.NoError(t, gdb.Create(&models.Student{DatasetID: ds.ID, Key: "amit_kumar_1"}).Error)

	store := NewStore(gdb, testDim)
	_, err := store.Load(context.Background(), "empty-student")
	assert.ErrorIs(t, err, ErrDatasetCorrupt)
}

func TestStoreListDatasets(t *testing.T) {
	gdb := openTestDB(t)

	a := models.Dataset{Name: "class-a"}
	require.NoError(t, gdb.Create(&a).Error)
	seedStudent(t, gdb, a.ID, "amit_kumar_1", "Amit Kumar", []float64{0, 0, 0, 0})

	b := models.Dataset{Name: "class-b"}
	require.NoError(t, gdb.Create(&b).Error)

	store := NewStore(gdb, testDim)
	infos, err := store.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "class-a", infos[0].Name)
	assert.Equal(t, 1, infos[0].StudentCount)
	assert.Equal(t, "class-b", infos[1].Name)
	assert.Equal(t, 0, infos[1].StudentCount)
}

func TestGalleryNew_Invariants(t *testing.T) {
	_, err := New("ds", testDim, []StudentEntry{{Key: "a_1"}})
	assert.ErrorIs(t, err, ErrDatasetCorrupt, "student without embeddings")

	_, err = New("ds", testDim, []StudentEntry{
		{Key: "a_1", Embeddings: [][]float64{{0, 0, 0, 0}}},
		{Key: "a_1", Embeddings: [][]float64{{1, 1, 1, 1}}},
	})
	assert.ErrorIs(t, err, ErrDatasetCorrupt, "duplicate key")

	_, err = New("ds", testDim, []StudentEntry{
		{Key: "a_1", Embeddings: [][]float64{{0, 0}}},
	})
	assert.ErrorIs(t, err, ErrDatasetCorrupt, "wrong dimensionality")
}
