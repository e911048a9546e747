package classifier

// Metrics are classification scores over one partition. Precision, recall, and
// F1 are macro averages over the classes present in either the true or the
// predicted labels; a class with no predictions scores zero precision.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Score computes Metrics from true and predicted class codes.
func Score(yTrue, yPred []int) Metrics {
	m := Metrics{Support: len(yTrue)}
	if len(yTrue) == 0 {
		return m
	}
	tp := map[int]int{}
	predicted := map[int]int{}
	actual := map[int]int{}
	correct := 0
	for i, t := range yTrue {
		p := yPred[i]
		actual[t]++
		predicted[p]++
		if t == p {
			tp[t]++
			correct++
		}
	}
	labels := map[int]struct{}{}
	for c := range actual {
		labels[c] = struct{}{}
	}
	for c := range predicted {
		labels[c] = struct{}{}
	}

	for c := range labels {
		var prec, rec, f1 float64
		if predicted[c] > 0 {
			prec = float64(tp[c]) / float64(predicted[c])
		}
		if actual[c] > 0 {
			rec = float64(tp[c]) / float64(actual[c])
		}
		if prec+rec > 0 {
			f1 = 2 * prec * rec / (prec + rec)
		}
		m.Precision += prec
		m.Recall += rec
		m.F1 += f1
	}
	n := float64(len(labels))
	m.Precision /= n
	m.Recall /= n
	m.F1 /= n
	m.Accuracy = float64(correct) / float64(len(yTrue))
	return m
}

// Evaluate predicts every row of X with c and scores the result against y.
func Evaluate(c Classifier, scheme Scheme, X [][]float64, y []int) Metrics {
	pred := make([]int, len(X))
	for i, x := range X {
		pred[i], _ = Predict(c, scheme, x)
	}
	return Score(y, pred)
}

func meanMetrics(ms []Metrics) Metrics {
	var out Metrics
	if len(ms) == 0 {
		return out
	}
	for _, m := range ms {
		out.Accuracy += m.Accuracy
		out.Precision += m.Precision
		out.Recall += m.Recall
		out.F1 += m.F1
		out.Support += m.Support
	}
	n := float64(len(ms))
	out.Accuracy /= n
	out.Precision /= n
	out.Recall /= n
	out.F1 /= n
	return out
}
