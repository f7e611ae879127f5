package models

import (
	"sort"

	"github.com/dmitrijs2005/trialregistry/internal/common"
)

// Pseudo upload types used for shipping-manifest derived files.
const (
	ParticipantsInfo = "participants info"
	SamplesInfo      = "samples info"
)

// ShippingManifests are upload types produced by sample shipments.
var ShippingManifests = []string{
	"pbmc", "plasma", "tissue_slide", "normal_blood_dna", "normal_tissue_dna",
	"tumor_tissue_dna", "tumor_tissue_rna", "h_and_e", "microbiome_dna",
}

// IrregularManifests are manifest uploads that produce no downloadable files
// of their own.
var IrregularManifests = []string{"tumor_normal_pairing"}

// objectPrefixes maps every downloadable upload type to the object path
// segment (below the trial id) its files live under.
var objectPrefixes = map[string]string{
	"wes_fastq":               "wes/",
	"wes_bam":                 "wes/",
	"rna_fastq":               "rna/",
	"rna_bam":                 "rna/",
	"olink":                   "olink/",
	"cytof":                   "cytof/",
	"ihc":                     "ihc/",
	"elisa":                   "elisa/",
	"mif":                     "mif/",
	"hande":                   "hande/",
	"nanostring":              "nanostring/",
	"atacseq_fastq":           "atacseq/",
	"tcr_adaptive":            "tcr/",
	"tcr_fastq":               "tcr/",
	"ctdna":                   "ctdna/",
	"microbiome":              "microbiome/",
	"mibi":                    "mibi/",
	"misc_data":               "misc_data/",
	"clinical_data":           "clinical/",
	"wes_analysis":            "wes_analysis/",
	"wes_tumor_only_analysis": "wes_tumor_only_analysis/",
	"rna_level1_analysis":     "rna_level1_analysis/",
	"tcr_analysis":            "tcr_analysis/",
	"cytof_analysis":          "cytof_analysis/",
	"atacseq_analysis":        "atacseq_analysis/",
	"ctdna_analysis":          "ctdna_analysis/",
	"microbiome_analysis":     "microbiome_analysis/",
	ParticipantsInfo:          "participants.",
	SamplesInfo:               "samples.",
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// IsManifestUpload reports whether uploadType is any manifest kind.
func IsManifestUpload(uploadType string) bool {
	return contains(ShippingManifests, uploadType) || contains(IrregularManifests, uploadType)
}

func IsShippingManifest(uploadType string) bool { return contains(ShippingManifests, uploadType) }

func IsIrregularManifest(uploadType string) bool { return contains(IrregularManifests, uploadType) }

// IsKnownUploadType reports whether a permission may name uploadType.
func IsKnownUploadType(uploadType string) bool {
	_, ok := objectPrefixes[uploadType]
	return ok || IsManifestUpload(uploadType)
}

// ObjectPrefix returns the path segment for uploadType, if it has files.
func ObjectPrefix(uploadType string) (string, bool) {
	p, ok := objectPrefixes[uploadType]
	return p, ok
}

// CrossAssayPrefixes are the path segments covered by an upload-type
// wildcard: everything except clinical data, sorted and de-duplicated.
func CrossAssayPrefixes() []string {
	seen := map[string]struct{}{}
	for t, p := range objectPrefixes {
		if t == common.ClinicalDataUploadType {
			continue
		}
		seen[p] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
