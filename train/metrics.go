package train

import (
	"math"
	"sort"
)

// LogLoss 返回平均二元交叉熵，概率截断到 [1e-7, 1-1e-7]。空输入返回 0。
func LogLoss(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	const eps = 1e-7
	var sum float64
	for i, p := range probs {
		p = math.Min(math.Max(p, eps), 1-eps)
		y := labels[i]
		sum -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return sum / float64(len(probs))
}

// AUC 用秩统计（Mann-Whitney U）计算 ROC AUC，得分相同的样本取平均秩。
// 只有一个类别时返回 NaN。
func AUC(scores, labels []float64) float64 {
	n := len(scores)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	var pos, rankSum float64
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		// 秩从 1 开始，[i, j) 的平均秩
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if labels[idx[k]] > 0.5 {
				pos++
				rankSum += avg
			}
		}
		i = j
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return math.NaN()
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

// MAPAtK 计算按组（display_id）的 MAP@k：每组内按得分降序排列，
// AP@k = sum(precision@i * rel_i, i <= k) / min(正例数, k)。
// 没有正例的组不计入平均；得分相同的行保持输入顺序。
func MAPAtK(scores, labels []float64, groups []int64, k int) float64 {
	byGroup := make(map[int64][]int)
	var order []int64
	for i, g := range groups {
		if _, ok := byGroup[g]; !ok {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], i)
	}

	var sum float64
	var counted int
	for _, g := range order {
		rows := byGroup[g]
		sort.SliceStable(rows, func(a, b int) bool { return scores[rows[a]] > scores[rows[b]] })
		var positives int
		for _, r := range rows {
			if labels[r] > 0.5 {
				positives++
			}
		}
		if positives == 0 {
			continue
		}
		var hits int
		var ap float64
		for rank, r := range rows {
			if rank >= k {
				break
			}
			if labels[r] > 0.5 {
				hits++
				ap += float64(hits) / float64(rank+1)
			}
		}
		sum += ap / float64(min(positives, k))
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}
