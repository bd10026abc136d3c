package domain

import "github.com/google/uuid"

// MetadataNamespace is the name space all well-known concept UUIDs derive from.
var MetadataNamespace = uuid.MustParse("0a7e1d6c-4f64-5b7e-9c3e-8b1d2f6a9e01")

// MetadataUUID derives the fixed UUID of a well-known concept.
func MetadataUUID(name string) uuid.UUID {
	return uuid.NewSHA1(MetadataNamespace, []byte(name))
}

// MetadataConcept is a concept the datastore creates at startup.
type MetadataConcept struct {
	Name string
	UUID uuid.UUID
	// VersionType is set for assemblages whose member kind is fixed.
	VersionType VersionType
}

// Well-known concept names. Their order in MetadataConcepts fixes their nids.
const (
	MetaRoot                   = "ISAAC root"
	MetaIsA                    = "is a"
	MetaConceptAssemblage      = "concept assemblage"
	MetaMasterPath             = "master path"
	MetaDevelopmentPath        = "development path"
	MetaCoreModule             = "core metadata module"
	MetaUserAuthor             = "user"
	MetaDescriptionAssemblage  = "English description assemblage"
	MetaStatedAssemblage       = "EL++ stated form assemblage"
	MetaInferredAssemblage     = "EL++ inferred form assemblage"
	MetaFullyQualifiedName     = "fully qualified name description type"
	MetaRegularName            = "regular name description type"
	MetaEnglishLanguage        = "English language"
	MetaCaseInsensitive        = "description not case sensitive"
	MetaCaseSensitive          = "description case sensitive"
	MetaMembershipAssemblage   = "membership assemblage"
	MetaComponentNidAssemblage = "component nid assemblage"
)

// MetadataConcepts lists the well-known concepts in nid assignment order.
func MetadataConcepts() []MetadataConcept {
	names := []struct {
		name string
		vt   VersionType
	}{
		{MetaRoot, VersionUnknown},
		{MetaIsA, VersionUnknown},
		{MetaConceptAssemblage, VersionConcept},
		{MetaMasterPath, VersionUnknown},
		{MetaDevelopmentPath, VersionUnknown},
		{MetaCoreModule, VersionUnknown},
		{MetaUserAuthor, VersionUnknown},
		{MetaDescriptionAssemblage, VersionDescription},
		{MetaStatedAssemblage, VersionLogicGraph},
		{MetaInferredAssemblage, VersionLogicGraph},
		{MetaFullyQualifiedName, VersionUnknown},
		{MetaRegularName, VersionUnknown},
		{MetaEnglishLanguage, VersionUnknown},
		{MetaCaseInsensitive, VersionUnknown},
		{MetaCaseSensitive, VersionUnknown},
		{MetaMembershipAssemblage, VersionMember},
		{MetaComponentNidAssemblage, VersionComponentNid},
	}
	out := make([]MetadataConcept, len(names))
	for i, n := range names {
		out[i] = MetadataConcept{Name: n.name, UUID: MetadataUUID(n.name), VersionType: n.vt}
	}
	return out
}

// MetadataNids holds the nids assigned to the well-known concepts.
type MetadataNids struct {
	Root                   int32
	IsA                    int32
	ConceptAssemblage      int32
	MasterPath             int32
	DevelopmentPath        int32
	CoreModule             int32
	UserAuthor             int32
	DescriptionAssemblage  int32
	StatedAssemblage       int32
	InferredAssemblage     int32
	FullyQualifiedName     int32
	RegularName            int32
	EnglishLanguage        int32
	CaseInsensitive        int32
	CaseSensitive          int32
	MembershipAssemblage   int32
	ComponentNidAssemblage int32
}

// MetadataNidsFrom fills the struct from a name to nid lookup.
func MetadataNidsFrom(lookup func(name string) int32) MetadataNids {
	return MetadataNids{
		Root:                   lookup(MetaRoot),
		IsA:                    lookup(MetaIsA),
		ConceptAssemblage:      lookup(MetaConceptAssemblage),
		MasterPath:             lookup(MetaMasterPath),
		DevelopmentPath:        lookup(MetaDevelopmentPath),
		CoreModule:             lookup(MetaCoreModule),
		UserAuthor:             lookup(MetaUserAuthor),
		DescriptionAssemblage:  lookup(MetaDescriptionAssemblage),
		StatedAssemblage:       lookup(MetaStatedAssemblage),
		InferredAssemblage:     lookup(MetaInferredAssemblage),
		FullyQualifiedName:     lookup(MetaFullyQualifiedName),
		RegularName:            lookup(MetaRegularName),
		EnglishLanguage:        lookup(MetaEnglishLanguage),
		CaseInsensitive:        lookup(MetaCaseInsensitive),
		CaseSensitive:          lookup(MetaCaseSensitive),
		MembershipAssemblage:   lookup(MetaMembershipAssemblage),
		ComponentNidAssemblage: lookup(MetaComponentNidAssemblage),
	}
}

// LogicAssemblage returns the logic graph assemblage for the premise.
func (m MetadataNids) LogicAssemblage(p PremiseType) int32 {
	if p == PremiseInferred {
		return m.InferredAssemblage
	}
	return m.StatedAssemblage
}

// DefaultEdit is the edit coordinate for user edits on the development path.
func (m MetadataNids) DefaultEdit() EditCoordinate {
	return EditCoordinate{AuthorNid: m.UserAuthor, ModuleNid: m.CoreModule, PathNid: m.DevelopmentPath}
}
