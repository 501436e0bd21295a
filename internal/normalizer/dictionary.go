package normalizer

import "github.com/stavmatch/boq-matching-service/internal/domain"

// operationKeywords maps each construction operation to the Czech terms that
// identify it in BOQ line text. Scanned in the order of operationScanOrder so
// that classification is deterministic; the first operation with a matching
// keyword wins.
var operationKeywords = map[domain.Operation][]string{
	domain.OperationConcreting:   {"betonáž", "beton", "železobeton", "monolit", "zálivka"},
	domain.OperationMasonry:      {"zdivo", "zdění", "vyzdívka", "cihl", "porotherm", "ytong", "tvárnic"},
	domain.OperationReinforcing:  {"výztuž", "armatur", "armování", "kari síť"},
	domain.OperationFormwork:     {"bednění", "odbednění"},
	domain.OperationExcavation:   {"výkop", "hloubení", "odkop", "rýh", "jáma"},
	domain.OperationDemolition:   {"bourání", "vybourání", "demolice", "odstranění konstrukc"},
	domain.OperationTransport:    {"doprava", "přesun hmot", "převoz", "přeprava"},
	domain.OperationDisposal:     {"odvoz", "skládk", "likvidace", "uložení odpadu", "poplatek za uložení"},
	domain.OperationInsulation:   {"izolace", "zateplení", "hydroizolace", "tepelná izolace"},
	domain.OperationPlastering:   {"omítk", "omítání", "štuk", "stěrka"},
	domain.OperationPaving:       {"dlažb", "dláždění", "zámková", "pokládka dlažby"},
	domain.OperationInstallation: {"montáž", "osazení", "instalace", "zabudování"},
}

// operationScanOrder fixes the order in which operations are tested against
// the input. More specific operations come before generic ones so that
// "montáž výztuže" classifies as reinforcing rather than installation.
var operationScanOrder = []domain.Operation{
	domain.OperationReinforcing,
	domain.OperationFormwork,
	domain.OperationConcreting,
	domain.OperationMasonry,
	domain.OperationExcavation,
	domain.OperationDemolition,
	domain.OperationInsulation,
	domain.OperationPlastering,
	domain.OperationPaving,
	domain.OperationDisposal,
	domain.OperationTransport,
	domain.OperationInstallation,
}

// materialKeywords identifies the dominant material named in a line. Ordered;
// first match wins.
var materialKeywords = []struct {
	Material string
	Terms    []string
}{
	{"beton", []string{"beton", "železobeton", "monolit"}},
	{"ocel", []string{"ocel", "výztuž", "armatur", "kari"}},
	{"cihla", []string{"cihl", "porotherm", "zdivo"}},
	{"pórobeton", []string{"ytong", "pórobeton", "porobeton"}},
	{"dřevo", []string{"dřev", "řezivo", "latě", "prkna"}},
	{"polystyren", []string{"polystyren", "eps", "xps"}},
	{"minerální vata", []string{"minerální vat", "minerální vln", "kamenná vln"}},
	{"sádrokarton", []string{"sádrokarton", "sdk"}},
	{"asfalt", []string{"asfalt", "živice"}},
	{"kamenivo", []string{"kamenivo", "štěrk", "drť", "frakce"}},
}

// structuralObjectKeywords identifies the structural element a line concerns.
// Ordered; first match wins.
var structuralObjectKeywords = []struct {
	Object string
	Terms  []string
}{
	{"základ", []string{"základ", "patka", "pas"}},
	{"stěna", []string{"stěn", "zeď", "zdi"}},
	{"příčka", []string{"příčk"}},
	{"strop", []string{"strop"}},
	{"sloup", []string{"sloup", "pilíř"}},
	{"deska", []string{"desk"}},
	{"překlad", []string{"překlad"}},
	{"schodiště", []string{"schodiště", "schod"}},
	{"střecha", []string{"střech", "krov"}},
	{"podlaha", []string{"podlah", "mazanin"}},
}

// operationSynonyms provides alternative search phrasings per operation,
// used by query expansion. The first entry is the canonical term.
var operationSynonyms = map[domain.Operation][]string{
	domain.OperationConcreting:   {"betonáž", "betonování", "uložení betonu"},
	domain.OperationMasonry:      {"zdivo", "zdění", "vyzdívání"},
	domain.OperationReinforcing:  {"výztuž", "armování", "ocelová výztuž"},
	domain.OperationFormwork:     {"bednění", "zřízení bednění"},
	domain.OperationExcavation:   {"výkop", "hloubení", "zemní práce"},
	domain.OperationDemolition:   {"bourání", "demolice", "vybourání"},
	domain.OperationTransport:    {"doprava", "přesun hmot", "přeprava materiálu"},
	domain.OperationDisposal:     {"odvoz", "uložení na skládku", "likvidace odpadu"},
	domain.OperationInsulation:   {"izolace", "zateplení", "izolační práce"},
	domain.OperationPlastering:   {"omítka", "omítání", "povrchová úprava"},
	domain.OperationPaving:       {"dlažba", "pokládka dlažby", "dláždění"},
	domain.OperationInstallation: {"montáž", "osazení", "instalace"},
	domain.OperationOther:        {"stavební práce"},
}

// OperationSynonyms returns the search phrasings for op, falling back to the
// generic entry when the operation has no dictionary row. The returned slice
// must not be modified.
func OperationSynonyms(op domain.Operation) []string {
	if syns, ok := operationSynonyms[op]; ok {
		return syns
	}
	return operationSynonyms[domain.OperationOther]
}
