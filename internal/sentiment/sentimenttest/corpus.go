// Package sentimenttest provides a small labelled Persian financial corpus for tests.
package sentimenttest

// Positive, Negative, and Neutral are sample texts per class.
var (
	Positive = []string{
		"سهام شرکت فولاد امروز با افزایش قیمت مواجه شد",
		"سودآوری شرکت در سه ماهه اول افزایش یافته است",
		"بازار بورس امروز روند صعودی داشت",
		"سود هر سهم بیشتر از پیش‌بینی‌ها بود",
		"رشد فروش شرکت امیدوارکننده است",
		"تحلیل تکنیکال نشان‌دهنده روند صعودی است",
	}
	Negative = []string{
		"بازار بورس امروز روند نزولی داشت",
		"سودآوری شرکت کاهش یافته است",
		"شرکت با مشکلات مالی مواجه شده است",
		"سهام شرکت امروز با کاهش قیمت مواجه شد",
		"رشد فروش شرکت کمتر از انتظارات بود",
		"تحلیل تکنیکال نشان‌دهنده روند نزولی است",
	}
	Neutral = []string{
		"شرکت امروز گزارش عملکرد خود را منتشر کرد",
		"قیمت سهام امروز بدون تغییر بود",
		"شرکت در حال بررسی طرح‌های توسعه است",
		"مجمع عمومی شرکت هفته آینده برگزار می‌شود",
		"قیمت سهام در محدوده مقاومت قرار دارد",
		"تحلیل‌گران در انتظار انتشار گزارش مالی هستند",
	}
)

// Ternary returns all samples with dataset label codes (0 negative, 1 positive, 2 neutral).
func Ternary() (texts, labels []string) {
	add := func(samples []string, label string) {
		for _, s := range samples {
			texts = append(texts, s)
			labels = append(labels, label)
		}
	}
	add(Negative, "0")
	add(Positive, "1")
	add(Neutral, "2")
	return texts, labels
}
