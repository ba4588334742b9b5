package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Messages holds the fixed user-facing sentences of the assistant.
type Messages struct {
	Handoff          string `yaml:"handoff"`
	HandoffAccepted  string `yaml:"handoff_accepted"`
	HelpdeskOffer    string `yaml:"helpdesk_offer"`
	OfferSuffix      string `yaml:"offer_suffix"`
	Unavailable      string `yaml:"unavailable"`
	Rejected         string `yaml:"rejected"`
	Reprompt         string `yaml:"reprompt"`
	Greeting         string `yaml:"greeting"`
	ThankYou         string `yaml:"thank_you"`
	OutOfScope       string `yaml:"out_of_scope"`
	Classified       string `yaml:"classified"`
	AskForDetail     string `yaml:"ask_for_detail"`
	Apology          string `yaml:"apology"`
	Disclaimer       string `yaml:"disclaimer"`
	SkippedCategory  string `yaml:"skipped_category"`
	LegalAttribution string `yaml:"legal_attribution"`
}

// Greetings are the time-of-day salutations prepended to the first answer.
type Greetings struct {
	Timezone  string `yaml:"timezone"`
	Morning   string `yaml:"morning"`
	Midday    string `yaml:"midday"`
	Afternoon string `yaml:"afternoon"`
	Evening   string `yaml:"evening"`
}

// Prompts holds the system prompts of the generative calls.
type Prompts struct {
	Topic          string `yaml:"topic"`
	Confirmation   string `yaml:"confirmation"`
	KBLI           string `yaml:"kbli"`
	Specificity    string `yaml:"specificity"`
	Relatedness    string `yaml:"relatedness"`
	QuestionClass  string `yaml:"question_class"`
	Rewrite        string `yaml:"rewrite"`
	RewriteNoCtx   string `yaml:"rewrite_no_context"`
	Answer         string `yaml:"answer"`
	AnswerRichText string `yaml:"answer_rich_text"`
	AnswerPlain    string `yaml:"answer_plain_text"`
}

// Policy is the set of message templates and vocabularies of the assistant.
type Policy struct {
	Messages           Messages  `yaml:"messages"`
	Greetings          Greetings `yaml:"greetings"`
	Prompts            Prompts   `yaml:"prompts"`
	Acronyms           []string  `yaml:"acronyms"`
	LegalPlaceholders  []string  `yaml:"legal_placeholders"`
	PlainTextPlatforms []string  `yaml:"plain_text_platforms"`
}

// LoadPolicy reads a YAML policy file on top of the compiled-in defaults.
// An empty path returns the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) validate() error {
	m := p.Messages
	required := map[string]string{
		"handoff":         m.Handoff,
		"helpdesk_offer":  m.HelpdeskOffer,
		"unavailable":     m.Unavailable,
		"rejected":        m.Rejected,
		"reprompt":        m.Reprompt,
		"apology":         m.Apology,
		"ask_for_detail":  m.AskForDetail,
		"out_of_scope":    m.OutOfScope,
		"handoff_accept":  m.HandoffAccepted,
		"greetings.zone":  p.Greetings.Timezone,
		"prompts.answer":  p.Prompts.Answer,
		"prompts.topic":   p.Prompts.Topic,
		"prompts.rewrite": p.Prompts.Rewrite,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("policy: %s must not be empty", name)
		}
	}
	return nil
}

// IsPlainText reports whether a platform renders plain text only.
func (p *Policy) IsPlainText(platform string) bool {
	for _, pl := range p.PlainTextPlatforms {
		if pl == platform {
			return true
		}
	}
	return false
}

// DefaultPolicy returns the compiled-in policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Messages: Messages{
			Handoff:         "Percakapan telah dipindahkan ke helpdesk.",
			HandoffAccepted: "Percakapan ini akan dihubungkan ke agen layanan.",
			HelpdeskOffer: "Mohon maaf, pertanyaan tersebut belum bisa kami jawab. Silakan ajukan pertanyaan lain. " +
				"Untuk bantuan lebih lanjut, apakah anda ingin dihubungkan ke helpdesk agen layanan?",
			OfferSuffix: "Untuk bantuan lebih lanjut, apakah anda ingin dihubungkan ke helpdesk agen layanan?",
			Unavailable: "Mohon maaf, untuk saat ini helpdesk agen layanan kami sedang tidak tersedia.\n" +
				"Bapak/Ibu bisa ajukan pertanyaan dengan mengirim email ke kontak@oss.go.id\n\n" +
				"Bapak/Ibu juga bisa mengunjungi kantor BKPM yang beralamat di Jalan Gatot Subroto No.44, " +
				"Senayan, Kecamatan Kebayoran Baru, Kota Jakarta Selatan.\n\n" +
				"Atau mengunjungi kantor Dinas Penanaman Modal dan Pelayanan Terpadu Satu Pintu (DPMPTSP) terdekat.",
			Rejected:   "Baik, apakah ada lagi yang bisa saya bantu?",
			Reprompt:   "Maaf, bapak/ibu dimohon untuk konfirmasi ya/tidak untuk pengalihan ke helpdesk agen layanan.",
			Greeting:   "Halo! Selamat datang di layanan Kementerian Investasi & Hilirisasi/BKPM, apakah ada yang bisa saya bantu?",
			ThankYou:   "Terima kasih telah menghubungi layanan Kementerian Investasi & Hilirisasi/BKPM!",
			OutOfScope: "Mohon maaf, pertanyaan tersebut berada di luar cakupan layanan kami. Silakan ajukan pertanyaan yang berkaitan dengan investasi, perizinan berusaha, atau layanan OSS agar saya dapat membantu dengan lebih tepat.",
			Classified: "Mohon maaf, pertanyaan tersebut melibatkan informasi konfidensial/rahasia. Silakan tanyakan pertanyaan lain.",
			AskForDetail: "Mohon maaf, apakah Bapak/Ibu bisa tanyakan dengan lebih detail dan jelas?",
			Apology:      "Mohon maaf, terjadi kendala saat memproses pertanyaan Bapak/Ibu. Silakan coba beberapa saat lagi.",
			Disclaimer: "\n\n*Jawaban ini dibuat oleh AI dan mungkin tidak selalu akurat. " +
				"Mohon gunakan sebagai referensi dan lakukan pengecekan tambahan bila diperlukan.*",
			SkippedCategory:  "Pertanyaan di luar OSS",
			LegalAttribution: "Menurut %s, ",
		},
		Greetings: Greetings{
			Timezone:  "Asia/Jakarta",
			Morning:   "Selamat pagi, Bapak/Ibu.",
			Midday:    "Selamat siang, Bapak/Ibu.",
			Afternoon: "Selamat sore, Bapak/Ibu.",
			Evening:   "Selamat malam, Bapak/Ibu.",
		},
		Prompts: Prompts{
			Topic: "Klasifikasikan pertanyaan pengguna ke salah satu label berikut dan jawab hanya dengan label: " +
				"peraturan_collection, uraian_collection, panduan_collection, helpdesk, greeting_query, thank_you, " +
				"classified_information, skip_collection_check.",
			Confirmation: "Tentukan apakah pengguna menyetujui pengalihan ke helpdesk agen layanan. " +
				"Jawab hanya dengan: ya, tidak, atau tidak_jelas.",
			KBLI: "Tentukan apakah pertanyaan berkaitan dengan kode KBLI (Klasifikasi Baku Lapangan Usaha Indonesia). " +
				"Jawab hanya dengan: kbli atau non_kbli.",
			Specificity: "Tentukan apakah pertanyaan KBLI menanyakan satu kode spesifik atau bersifat umum. " +
				"Jawab hanya dengan: specific atau general.",
			Relatedness: "Tentukan apakah pertanyaan terbaru berkaitan dengan riwayat percakapan " +
				"(topik yang sama, kelanjutan, atau tidak dapat dipahami tanpa konteks). Jawab hanya dengan: related atau unrelated.",
			QuestionClass: "Klasifikasikan pertanyaan ke salah satu kategori dan sub kategori berikut. " +
				"Jawab hanya dalam format JSON {\"category\": \"...\", \"sub_category\": \"...\"}.\n%s",
			Rewrite: "Tulis ulang pertanyaan terbaru menjadi pertanyaan mandiri dengan memanfaatkan riwayat percakapan. " +
				"Jangan menjawab pertanyaan. Pertahankan singkatan berikut apa adanya: %s.",
			RewriteNoCtx: "Perbaiki ejaan pertanyaan berikut menjadi pertanyaan mandiri tanpa menambah informasi lain. " +
				"Jangan menjawab pertanyaan. Pertahankan singkatan berikut apa adanya: %s.",
			Answer: "Anda adalah asisten layanan Kementerian Investasi & Hilirisasi/BKPM. Jawab pertanyaan hanya " +
				"berdasarkan konteks yang diberikan. Jika konteks tidak memuat jawaban, jawab persis dengan: %s",
			AnswerRichText: "Gunakan format markdown bila membantu.",
			AnswerPlain:    "Jawab dalam teks biasa tanpa format markdown.",
		},
		Acronyms:           []string{"OSS", "LKPM", "NIB", "KBLI", "PB", "PB-UMKU", "AHU", "RDTR"},
		LegalPlaceholders:  []string{"lihat teks undang-undang", "lihat peraturan", "cukup jelas"},
		PlainTextPlatforms: []string{"instagram", "email", "whatsapp"},
	}
}
