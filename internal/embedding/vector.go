package embedding

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CosineSimilarity computes similarity between two embeddings (-1 to 1).
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	va, vb := mat.NewVecDense(len(a), a), mat.NewVecDense(len(b), b)
	normA, normB := va.Norm(2), vb.Norm(2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return mat.Dot(va, vb) / (normA * normB)
}

// AverageEmbeddings computes the centroid of multiple embeddings. The
// semantic generator does not use it: HyDE results are merged by keeping
// each id's best score across the per-embedding searches.
func AverageEmbeddings(embeddings [][]float64) []float64 {
	if len(embeddings) == 0 {
		return nil
	}
	dims := len(embeddings[0])
	result := make([]float64, dims)
	n := 0
	for _, emb := range embeddings {
		if len(emb) != dims {
			continue
		}
		floats.Add(result, emb)
		n++
	}
	if n == 0 {
		return nil
	}
	floats.Scale(1/float64(n), result)
	return result
}

// UpdateCentroid updates a centroid with a new embedding using exponential
// moving average: alpha*new + (1-alpha)*current.
func UpdateCentroid(current, newEmb []float64, alpha float64) []float64 {
	if len(current) == 0 {
		return newEmb
	}
	if len(newEmb) == 0 {
		return current
	}
	if len(current) != len(newEmb) {
		return newEmb
	}
	result := make([]float64, len(current))
	copy(result, current)
	floats.Scale(1-alpha, result)
	scaled := make([]float64, len(newEmb))
	copy(scaled, newEmb)
	floats.Scale(alpha, scaled)
	floats.Add(result, scaled)
	return result
}
