package boxes

import (
	"testing"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		id      string
		pool    models.BoxPool
		number  int
		wantErr bool
	}{
		{id: "1", pool: models.BoxPoolFactory, number: 1},
		{id: "600", pool: models.BoxPoolFactory, number: 600},
		{id: "601", wantErr: true},
		{id: "0", wantErr: true},
		{id: "007", wantErr: true},
		{id: "-3", wantErr: true},
		{id: "Chkara1", pool: models.BoxPoolAuxiliary, number: 1},
		{id: "Chkara42", pool: models.BoxPoolAuxiliary, number: 42},
		{id: "Chkara0", wantErr: true},
		{id: "chkara3", wantErr: true},
		{id: "Chkara", wantErr: true},
		{id: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			ident, err := ParseIdentity(tc.id, 600)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.pool, ident.Pool)
			assert.Equal(t, tc.number, ident.Number)
			assert.Equal(t, tc.id, ident.String())
		})
	}
}

func TestParseTypedChecksNamespace(t *testing.T) {
	_, err := ParseTyped("Chkara3", models.BoxTypeChkara, 600)
	assert.NoError(t, err)
	_, err = ParseTyped("12", models.BoxTypeNchira, 600)
	assert.NoError(t, err)

	_, err = ParseTyped("12", models.BoxTypeChkara, 600)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = ParseTyped("Chkara3", models.BoxTypeNormal, 600)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = ParseTyped("12", models.BoxType("crate"), 600)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSortIDsIsNumeric(t *testing.T) {
	ids := []string{"10", "Chkara2", "9", "100", "Chkara10", "2", "Chkara1"}
	SortIDs(ids)
	assert.Equal(t, []string{"2", "9", "10", "100", "Chkara1", "Chkara2", "Chkara10"}, ids)
}

func TestNextAuxiliaryNumber(t *testing.T) {
	tests := []struct {
		name string
		used []int
		want int
	}{
		{"none", nil, 1},
		{"dense", []int{1, 2, 3}, 4},
		{"gap", []int{1, 2, 4, 5}, 3},
		{"missing first", []int{2, 3}, 1},
		{"unsorted", []int{3, 1, 2, 6}, 4},
		{"duplicates", []int{1, 1, 2}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextAuxiliaryNumber(tc.used))
		})
	}
}

func TestNormalizeIDs(t *testing.T) {
	assert.Equal(t, []string{"5", "Chkara1"}, NormalizeIDs([]string{" 5", "", "Chkara1", "5 "}))
}
