package events

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var (
	supported = []language.Tag{language.English, language.BrazilianPortuguese, language.Indonesian}
	matcher   = language.NewMatcher(supported)
	messages  = buildCatalog()
)

type entry struct {
	key          string
	en, pt, indo string
}

var catalogEntries = []entry{
	{"kind.generation", "generation", "geração", "generasi"},
	{"kind.training", "training", "treinamento", "pelatihan"},
	{"kind.upscale", "upscale", "ampliação", "peningkatan resolusi"},
	{TypeJobProcessing, "Your %s job is processing.", "Seu job de %s está em processamento.", "Pekerjaan %s Anda sedang diproses."},
	{TypeJobCompleted, "Your %s job is complete.", "Seu job de %s foi concluído.", "Pekerjaan %s Anda telah selesai."},
	{"job.completed.ephemeral", "Your %s job is complete. Save the results within the next hour.", "Seu job de %s foi concluído. Salve os resultados na próxima hora.", "Pekerjaan %s Anda telah selesai. Simpan hasilnya dalam satu jam ke depan."},
	{TypeJobFailed, "Your %s job failed: %s", "Seu job de %s falhou: %s", "Pekerjaan %s Anda gagal: %s"},
	{"job.failed.refunded", "Your %s job failed: %s. %d credits were returned to your balance.", "Seu job de %s falhou: %s. %d créditos foram devolvidos ao seu saldo.", "Pekerjaan %s Anda gagal: %s. %d kredit telah dikembalikan ke saldo Anda."},
	{TypeJobCancelled, "Your %s job was cancelled.", "Seu job de %s foi cancelado.", "Pekerjaan %s Anda dibatalkan."},
}

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, e := range catalogEntries {
		_ = b.SetString(language.English, e.key, e.en)
		_ = b.SetString(language.BrazilianPortuguese, e.key, e.pt)
		_ = b.SetString(language.Indonesian, e.key, e.indo)
	}
	return b
}

// MatchLocale picks the closest supported language for a locale string such
// as "pt-BR", "id" or an Accept-Language value.
func MatchLocale(locale string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Localize renders a human readable message for ev in locale.
func Localize(locale string, ev Event) string {
	tag := MatchLocale(locale)
	p := message.NewPrinter(tag, message.Catalog(messages))
	kind := p.Sprintf("kind." + ev.Payload.Kind)
	if kind == "kind."+ev.Payload.Kind {
		kind = ev.Payload.Kind
	}

	switch ev.Type {
	case TypeJobCompleted:
		if ev.Payload.StorageError != "" {
			return p.Sprintf("job.completed.ephemeral", kind)
		}
		return p.Sprintf(TypeJobCompleted, kind)
	case TypeJobFailed:
		if ev.Payload.CreditsRefunded > 0 {
			return p.Sprintf("job.failed.refunded", kind, ev.Payload.Error, ev.Payload.CreditsRefunded)
		}
		return p.Sprintf(TypeJobFailed, kind, ev.Payload.Error)
	case TypeJobProcessing, TypeJobCancelled:
		return p.Sprintf(ev.Type, kind)
	}
	return ""
}
