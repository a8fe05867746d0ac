package cmd

import (
	"fmt"

	"draftplane/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and drive drafting jobs",
}

func printJob(cmd *cobra.Command, job *api.Job) {
	cmd.Printf("ID:      %s\n", job.ID)
	cmd.Printf("Project: %s\n", job.ProjectID)
	cmd.Printf("Status:  %s\n", job.Status)
	cmd.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.UpdatedAt != nil {
		cmd.Printf("Updated: %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if m := job.Manifest; m != nil {
		for _, a := range []struct {
			name string
			uri  *string
		}{
			{"video", m.VideoURI},
			{"audio", m.AudioURI},
			{"transcript", m.TranscriptURI},
			{"draft", m.DraftURI},
		} {
			if a.uri != nil {
				cmd.Printf("  %-10s %s\n", a.name, *a.uri)
			}
		}
		for _, e := range m.Exports {
			cmd.Printf("  %-10s %s\n", "export", e)
		}
	}
}

func replayedSuffix(replayed bool) string {
	if replayed {
		return " (replayed)"
	}
	return ""
}

var jobCreateCmd = &cobra.Command{
	Use:   "create [project_id]",
	Short: "Create a job in a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		job, err := client.CreateJob(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Println("✅ Job created!")
		printJob(cmd, job)
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Show a job and its artifacts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		job, err := client.GetJob(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		printJob(cmd, job)
	},
}

var jobConfirmUploadCmd = &cobra.Command{
	Use:   "confirm-upload [job_id] [video_uri]",
	Short: "Record the uploaded video of a job",
	Long:  `Record the uploaded video of a job. The URI is taken from the second argument or --video-uri.`,
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}
		videoURI, _ := cmd.Flags().GetString("video-uri")
		if len(args) == 2 {
			videoURI = args[1]
		}

		res, err := client.ConfirmUpload(args[0], videoURI)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("📼 Upload confirmed%s\n", replayedSuffix(res.Replayed))
		printJob(cmd, &res.Job)
	},
}

var jobRunCmd = &cobra.Command{
	Use:   "run [job_id]",
	Short: "Dispatch the pipeline for an uploaded job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		res, err := client.RunJob(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("🚀 Pipeline dispatched%s\nJob:      %s\nStatus:   %s\nDispatch: %s\n",
			replayedSuffix(res.Replayed), res.JobID, res.Status, res.DispatchID)
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Retry a failed job from its last checkpoint",
	Long: `Retry a failed job. The controller resumes from the most advanced artifact the
job produced. Reusing --request-id replays the earlier retry instead of starting
a new one; when it is omitted a fresh id is generated and printed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}
		profile, _ := cmd.Flags().GetString("model-profile")
		requestID, _ := cmd.Flags().GetString("request-id")
		if requestID == "" {
			requestID = "cli-" + uuid.NewString()
		}

		res, err := client.RetryJob(args[0], api.RetryJobRequest{ModelProfile: profile, ClientRequestID: requestID})
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("🔁 Retry accepted%s\nRequest:  %s\nStatus:   %s\nResume:   %s\nProfile:  %s\nDispatch: %s\n",
			replayedSuffix(res.Replayed), requestID, res.Status, res.ResumeFromStatus, res.ModelProfile, res.DispatchID)
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}

		job, err := client.CancelJob(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("🛑 Job %s is %s\n", job.ID, job.Status)
	},
}

var jobTranscriptCmd = &cobra.Command{
	Use:   "transcript [job_id]",
	Short: "Page through a job's transcript",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ok := newClient(cmd)
		if !ok {
			return
		}
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")

		page, err := client.GetTranscript(args[0], limit, cursor)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		for _, s := range page.Items {
			cmd.Printf("[%s - %s] %s\n", timestamp(s.StartMS), timestamp(s.EndMS), s.Text)
		}
		if page.NextCursor != nil {
			cmd.Printf("\nMore segments: --cursor %s\n", *page.NextCursor)
		}
	},
}

// timestamp formats milliseconds as mm:ss.mmm.
func timestamp(ms int64) string {
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

func init() {
	jobConfirmUploadCmd.Flags().String("video-uri", "", "URI of the uploaded video")

	jobRetryCmd.Flags().String("model-profile", "", "Model profile for the retry, such as cloud-default or local-fast")
	jobRetryCmd.Flags().String("request-id", "", "Idempotency key for the retry")

	jobTranscriptCmd.Flags().Int("limit", 0, "Segments per page (default server side)")
	jobTranscriptCmd.Flags().String("cursor", "", "Cursor from a previous page")

	jobCmd.AddCommand(jobCreateCmd, jobGetCmd, jobConfirmUploadCmd, jobRunCmd, jobRetryCmd, jobCancelCmd, jobTranscriptCmd)
	rootCmd.AddCommand(jobCmd)
}
