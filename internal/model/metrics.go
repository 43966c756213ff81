package model

// AccuracyMetrics are information-retrieval style accuracy figures for one
// field set measured against ground truth. Always derived through
// ComputeAccuracyMetrics, never hand-constructed.
type AccuracyMetrics struct {
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Accuracy       float64 `json:"accuracy"`
	ErrorRate      float64 `json:"error_rate"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TotalFields    int     `json:"total_fields"`
	ErrorCount     int     `json:"error_count"`
}

// ComputeAccuracyMetrics derives the full metric set from raw counts.
// f1 = 2pr/(p+r) when p+r > 0, else 0.
func ComputeAccuracyMetrics(truePositives, falsePositives, falseNegatives, totalFields int) AccuracyMetrics {
	m := AccuracyMetrics{
		TruePositives:  truePositives,
		FalsePositives: falsePositives,
		FalseNegatives: falseNegatives,
		TotalFields:    totalFields,
		ErrorCount:     falsePositives + falseNegatives,
	}

	if truePositives+falsePositives > 0 {
		m.Precision = float64(truePositives) / float64(truePositives+falsePositives)
	}
	if truePositives+falseNegatives > 0 {
		m.Recall = float64(truePositives) / float64(truePositives+falseNegatives)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if totalFields > 0 {
		m.Accuracy = float64(truePositives) / float64(totalFields)
		m.ErrorRate = float64(m.ErrorCount) / float64(totalFields)
	}
	return m
}
