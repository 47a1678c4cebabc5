package service

import (
	"math"

	"github.com/noah-isme/academic-records-api/internal/models"
)

// DefaultPassMark is the final mark at or above which a student passes.
const DefaultPassMark = 35.0

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ApplyBestOfTwo flags the highest scoring exam among the policy exams.
// The input slice is never modified; a copy is returned when the policy applies.
func ApplyBestOfTwo(marks []models.ComponentMark, policy models.BestOfTwoPolicy) []models.ComponentMark {
	if !policy.Enabled || len(policy.Exams) < 2 {
		return marks
	}
	exams := make(map[string]struct{}, len(policy.Exams))
	for _, name := range policy.Exams {
		exams[name] = struct{}{}
	}

	winner := -1
	examCount := 0
	for i, mark := range marks {
		if _, ok := exams[string(mark.ComponentName)]; !ok {
			continue
		}
		examCount++
		if winner < 0 || mark.MarksObtained > marks[winner].MarksObtained {
			winner = i
		}
	}
	if examCount < 2 {
		return marks
	}

	best := marks[winner].MarksObtained
	out := make([]models.ComponentMark, len(marks))
	copy(out, marks)
	for i := range out {
		if _, ok := exams[string(out[i].ComponentName)]; !ok {
			continue
		}
		out[i].IsBestOfTwo = out[i].MarksObtained == best
	}
	return out
}

// CalculateWeightedMarks scales each matched, present mark by its component weightage.
// Unmatched components and zero denominators contribute nothing.
func CalculateWeightedMarks(marks []models.ComponentMark, components []models.SchemeComponent) float64 {
	byID := make(map[string]models.SchemeComponent, len(components))
	for _, component := range components {
		byID[component.ID] = component
	}

	weighted := 0.0
	for _, mark := range marks {
		if mark.IsAbsent {
			continue
		}
		component, ok := byID[mark.ComponentID]
		if !ok {
			continue
		}
		maxMarks := mark.MaxMarks
		if maxMarks <= 0 {
			maxMarks = component.MaxMarks
		}
		if maxMarks <= 0 {
			continue
		}
		percentage := mark.MarksObtained / maxMarks * 100
		weighted += percentage * component.Weightage / 100
	}
	return round2(weighted)
}

// AttendanceBonus awards the full bonus when mean attendance meets the threshold.
func AttendanceBonus(percentages []float64, policy models.AttendanceThresholdPolicy) float64 {
	if policy.MinAttendancePercentage <= 0 {
		return 0
	}
	average := 0.0
	if len(percentages) > 0 {
		sum := 0.0
		for _, p := range percentages {
			sum += p
		}
		average = sum / float64(len(percentages))
	}
	if average >= policy.MinAttendancePercentage {
		return policy.MarksApplicable
	}
	return 0
}

// CapGraceMarks bounds a grace request to [0, maxGrace].
func CapGraceMarks(requested, maxGrace float64) float64 {
	if requested <= 0 || maxGrace <= 0 {
		return 0
	}
	return math.Min(requested, maxGrace)
}

// FinalMarks combines the calculation steps and caps the result at 100.
func FinalMarks(weighted, bonus, grace float64) float64 {
	return round2(math.Min(weighted+bonus+grace, 100))
}

// ComputeClassStatistics summarises final marks of the supplied records.
func ComputeClassStatistics(records []models.MarksRecord, passMark float64) models.ClassStatistics {
	if len(records) == 0 {
		return models.ClassStatistics{}
	}

	stats := models.ClassStatistics{
		TotalStudents: len(records),
		HighestMarks:  records[0].FinalMarks,
		LowestMarks:   records[0].FinalMarks,
	}
	sum := 0.0
	for _, record := range records {
		final := record.FinalMarks
		sum += final
		if final > stats.HighestMarks {
			stats.HighestMarks = final
		}
		if final < stats.LowestMarks {
			stats.LowestMarks = final
		}
		if final >= passMark {
			stats.PassCount++
		}
	}
	stats.FailCount = stats.TotalStudents - stats.PassCount
	stats.AverageMarks = round2(sum / float64(stats.TotalStudents))
	stats.PassPercentage = int(math.Round(float64(stats.PassCount) / float64(stats.TotalStudents) * 100))
	return stats
}
