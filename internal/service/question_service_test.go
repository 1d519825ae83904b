package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/dto"
	"github.com/noah-isme/exam-portal-api/internal/models"
)

func newQuestionServiceForTest(store testStore) QuestionService {
	return NewQuestionService(store.questions, NewActivityService(store.activity, testLogger()), testValidator, testLogger())
}

func mcqRequest() dto.QuestionRequest {
	return dto.QuestionRequest{
		Text:       "What is 2 + 2?",
		Type:       string(models.QuestionTypeMCQ),
		Subject:    "Math",
		Difficulty: "easy",
		Marks:      2,
		Options: []dto.OptionRequest{
			{Text: "4", IsCorrect: true},
			{Text: "5"},
		},
		Hints: []dto.HintRequest{{Text: "Count on your fingers", Penalty: 1}},
	}
}

func TestQuestionCreateAssignsOptionIDs(t *testing.T) {
	store := newTestStore(t)
	svc := newQuestionServiceForTest(store)
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")

	created, err := svc.Create(context.Background(), teacherActor(teacher), mcqRequest())
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)
	require.Len(t, created.Options, 2)
	require.NotEmpty(t, created.Options[0].ID)
	require.NotEqual(t, created.Options[0].ID, created.Options[1].ID)
	require.Equal(t, teacher.ID, created.CreatedBy)
}

func TestQuestionCreateEnforcesTypeRules(t *testing.T) {
	store := newTestStore(t)
	svc := newQuestionServiceForTest(store)
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")
	ctx := context.Background()

	noCorrect := mcqRequest()
	noCorrect.Options = []dto.OptionRequest{{Text: "4"}, {Text: "5"}}
	_, err := svc.Create(ctx, teacherActor(teacher), noCorrect)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "options", validationErr.Fields[0].Field)

	trueFalse := mcqRequest()
	trueFalse.Type = string(models.QuestionTypeTrueFalse)
	trueFalse.Options = append(trueFalse.Options, dto.OptionRequest{Text: "maybe"})
	_, err = svc.Create(ctx, teacherActor(teacher), trueFalse)
	require.True(t, errors.As(err, &validationErr))

	coding := dto.QuestionRequest{
		Text:       "Reverse a string",
		Type:       string(models.QuestionTypeCoding),
		Subject:    "CS",
		Difficulty: "medium",
		Marks:      10,
		Coding:     &dto.CodingRequest{Language: "cobol"},
	}
	_, err = svc.Create(ctx, teacherActor(teacher), coding)
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "coding.language", validationErr.Fields[0].Field)

	blank := dto.QuestionRequest{
		Text:       "Fill the capital",
		Type:       string(models.QuestionTypeFillBlank),
		Subject:    "Geo",
		Difficulty: "easy",
		Marks:      1,
	}
	_, err = svc.Create(ctx, teacherActor(teacher), blank)
	require.True(t, errors.As(err, &validationErr))
	require.Len(t, validationErr.Fields, 2)

	invalidType := mcqRequest()
	invalidType.Type = "matching"
	_, err = svc.Create(ctx, teacherActor(teacher), invalidType)
	require.Error(t, err)
}

func TestQuestionBulkCreateIsAllOrNothing(t *testing.T) {
	store := newTestStore(t)
	svc := newQuestionServiceForTest(store)
	teacher := store.user(t, models.RoleTeacher, "teacher@example.com")
	ctx := context.Background()

	broken := mcqRequest()
	broken.Options = []dto.OptionRequest{{Text: "only one", IsCorrect: true}}
	_, err := svc.BulkCreate(ctx, teacherActor(teacher), dto.BulkQuestionRequest{Questions: []dto.QuestionRequest{mcqRequest(), broken}})
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "questions[1].options", validationErr.Fields[0].Field)

	list, err := svc.List(ctx, teacherActor(teacher), dto.QuestionListRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Empty(t, list.Items)

	created, err := svc.BulkCreate(ctx, teacherActor(teacher), dto.BulkQuestionRequest{Questions: []dto.QuestionRequest{mcqRequest(), mcqRequest()}})
	require.NoError(t, err)
	require.Equal(t, 2, created.Created)
	require.NotZero(t, created.Items[1].ID)
}

func TestQuestionOwnershipUpdateDuplicateDelete(t *testing.T) {
	store := newTestStore(t)
	svc := newQuestionServiceForTest(store)
	owner := store.user(t, models.RoleTeacher, "owner@example.com")
	other := store.user(t, models.RoleTeacher, "other@example.com")
	ctx := context.Background()

	created, err := svc.Create(ctx, teacherActor(owner), mcqRequest())
	require.NoError(t, err)

	_, err = svc.Get(ctx, teacherActor(other), created.ID)
	require.ErrorIs(t, err, ErrForbidden)

	admin, err := svc.Get(ctx, Actor{ID: 999, Role: models.RoleAdmin}, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, admin.ID)

	req := mcqRequest()
	req.Marks = 5
	updated, err := svc.Update(ctx, teacherActor(owner), created.ID, req)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, 5, updated.Marks)

	duplicate, err := svc.Duplicate(ctx, teacherActor(owner), created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.ID, duplicate.ID)
	require.Equal(t, "What is 2 + 2? (Copy)", duplicate.Text)
	require.NotNil(t, duplicate.ParentQuestionID)
	require.Equal(t, created.ID, *duplicate.ParentQuestionID)
	require.Equal(t, 1, duplicate.Version)

	require.NoError(t, svc.Delete(ctx, teacherActor(owner), created.ID))
	list, err := svc.List(ctx, teacherActor(owner), dto.QuestionListRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, duplicate.ID, list.Items[0].ID)

	subjects, err := svc.Subjects(ctx, teacherActor(other))
	require.NoError(t, err)
	require.Empty(t, subjects)

	_, err = svc.Get(ctx, teacherActor(owner), 9999)
	require.ErrorIs(t, err, ErrQuestionNotFound)
}
