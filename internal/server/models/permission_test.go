package models

import (
	"testing"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermission_Validate(t *testing.T) {
	p := &Permission{GrantedToUser: 1}
	require.ErrorIs(t, p.Validate(), common.ErrBothWildcards)

	p = &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("not_a_type")}
	require.ErrorIs(t, p.Validate(), common.ErrValidation)

	p = &Permission{GrantedToUser: 1, UploadType: Specific("wes_bam")}
	require.NoError(t, p.Validate())
}

func TestPermission_Matches_ClinicalDataExcludedFromWildcard(t *testing.T) {
	crossAssay := &Permission{Trial: Specific("T1"), UploadType: Every}

	assert.True(t, crossAssay.Matches(Specific("T1"), Specific("olink")))
	assert.False(t, crossAssay.Matches(Specific("T1"), Specific(common.ClinicalDataUploadType)))
	assert.False(t, crossAssay.Matches(Specific("T2"), Specific("olink")))
	assert.True(t, crossAssay.Matches(Every, Every))

	clinical := &Permission{Trial: Specific("T1"), UploadType: Specific(common.ClinicalDataUploadType)}
	assert.True(t, clinical.Matches(Specific("T1"), Specific(common.ClinicalDataUploadType)))

	crossTrial := &Permission{Trial: Every, UploadType: Specific("wes_bam")}
	assert.True(t, crossTrial.Matches(Specific("T1"), Specific("wes_bam")))
	assert.False(t, crossTrial.Matches(Specific("T1"), Specific("wes_fastq")))
}

func TestPermission_Supersedes(t *testing.T) {
	crossTrial := &Permission{ID: 10, GrantedToUser: 1, Trial: Every, UploadType: Specific("wes_bam")}
	crossAssay := &Permission{ID: 11, GrantedToUser: 1, Trial: Specific("T1"), UploadType: Every}

	tests := []struct {
		name string
		new  *Permission
		old  *Permission
		want bool
	}{
		{"cross trial same type", crossTrial, &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("wes_bam")}, true},
		{"cross trial other type", crossTrial, &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("olink")}, false},
		{"cross trial other user", crossTrial, &Permission{GrantedToUser: 2, Trial: Specific("T1"), UploadType: Specific("wes_bam")}, false},
		{"cross assay same trial", crossAssay, &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("olink")}, true},
		{"cross assay keeps clinical", crossAssay, &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific(common.ClinicalDataUploadType)}, false},
		{"cross assay other trial", crossAssay, &Permission{GrantedToUser: 1, Trial: Specific("T2"), UploadType: Specific("olink")}, false},
		{"specific never supersedes", &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("olink")}, &Permission{GrantedToUser: 1, Trial: Specific("T1"), UploadType: Specific("olink")}, false},
		{"itself", crossAssay, crossAssay, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.new.Supersedes(tt.old))
		})
	}
}
